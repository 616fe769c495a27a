package social

import (
	"context"

	"github.com/utafrali/identity/internal/repository"
)

// Profile is the subset of a provider profile the identity core consumes.
type Profile struct {
	Email     string `json:"email"`
	FirstName string `json:"given_name"`
	LastName  string `json:"family_name"`
}

// Connection represents a completed third-party authentication handshake.
// The OAuth dance itself happens upstream; the core only needs the local
// identities already linked to the connection and the provider profile.
type Connection interface {
	// LinkedUserIDs returns local user identifiers linked to this connection.
	LinkedUserIDs(ctx context.Context) ([]string, error)

	// FetchProfile retrieves profile data from the provider.
	FetchProfile(ctx context.Context) (Profile, error)
}

// ProviderConnection is the production Connection: link lookups go to the
// connection repository, profile data comes from the provider's userinfo
// endpoint using the access token obtained by the upstream handshake.
type ProviderConnection struct {
	provider       string
	providerUserID string
	accessToken    string
	links          repository.ConnectionRepository
	profiles       *ProfileClient
}

// NewProviderConnection builds a connection for one authenticated provider
// identity.
func NewProviderConnection(
	provider, providerUserID, accessToken string,
	links repository.ConnectionRepository,
	profiles *ProfileClient,
) *ProviderConnection {
	return &ProviderConnection{
		provider:       provider,
		providerUserID: providerUserID,
		accessToken:    accessToken,
		links:          links,
		profiles:       profiles,
	}
}

// Provider returns the provider key, e.g. "google".
func (c *ProviderConnection) Provider() string { return c.provider }

// ProviderUserID returns the provider-scoped subject identifier.
func (c *ProviderConnection) ProviderUserID() string { return c.providerUserID }

func (c *ProviderConnection) LinkedUserIDs(ctx context.Context) ([]string, error) {
	return c.links.LinkedUserIDs(ctx, c.provider, c.providerUserID)
}

func (c *ProviderConnection) FetchProfile(ctx context.Context) (Profile, error) {
	return c.profiles.Fetch(ctx, c.accessToken)
}
