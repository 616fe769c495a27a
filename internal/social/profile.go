package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/utafrali/identity/pkg/httpclient"
)

// ProfileClient fetches a provider profile from a userinfo endpoint. Calls
// go through a circuit breaker so a flapping provider cannot tie up login
// traffic.
type ProfileClient struct {
	client      *httpclient.Client
	userInfoURL string
}

// NewProfileClient creates a profile client for one provider endpoint.
func NewProfileClient(client *httpclient.Client, userInfoURL string) *ProfileClient {
	return &ProfileClient{client: client, userInfoURL: userInfoURL}
}

// Fetch retrieves the profile using the provider access token.
func (c *ProfileClient) Fetch(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := c.client.Get(ctx, c.userInfoURL, map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Accept":        "application/json",
	})
	if err != nil {
		return Profile{}, fmt.Errorf("fetch provider profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("fetch provider profile: unexpected status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode provider profile: %w", err)
	}

	return p, nil
}
