package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/repository"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/internal/social"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// IdentityService is the service surface the HTTP layer depends on.
type IdentityService interface {
	CreateUser(ctx context.Context, in service.CreateUserInput, role domain.Role) (*domain.ExternalUser, error)
	CreateAnonymousUser(ctx context.Context, role domain.Role) (*domain.ExternalUser, error)
	Login(ctx context.Context, in service.LoginInput) (*domain.ExternalUser, error)
	SocialLogin(ctx context.Context, conn social.Connection) (*domain.ExternalUser, error)
	GetUser(ctx context.Context, requester *domain.ExternalUser, id string) (*domain.ExternalUser, error)
	UpdateUser(ctx context.Context, requester *domain.ExternalUser, id string, in service.UpdateUserInput) (*domain.ExternalUser, error)
	DeleteUser(ctx context.Context, requester *domain.ExternalUser, id string) error
	SweepExpiredSessions(ctx context.Context, staleness time.Duration) (int, error)
	ResolveSession(ctx context.Context, token string) (*domain.ExternalUser, error)
	LinkConnection(ctx context.Context, requester *domain.ExternalUser, userID, provider, providerUserID string) error
}

// Handler exposes the identity service over HTTP.
type Handler struct {
	svc            IdentityService
	links          repository.ConnectionRepository
	providers      map[string]*social.ProfileClient
	sweepStaleness time.Duration
	logger         *slog.Logger
}

// NewHandler creates the HTTP handler. The providers map keys social
// provider names to their userinfo clients; sweepStaleness is the default
// session staleness window for the sweep endpoint.
func NewHandler(
	svc IdentityService,
	links repository.ConnectionRepository,
	providers map[string]*social.ProfileClient,
	sweepStaleness time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		svc:            svc,
		links:          links,
		providers:      providers,
		sweepStaleness: sweepStaleness,
		logger:         logger,
	}
}

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in service.CreateUserInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	ext, err := h.svc.CreateUser(r.Context(), in, domain.RoleAuthenticated)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Data: ext})
}

// CreateAnonymousUser handles POST /api/v1/auth/anonymous.
func (h *Handler) CreateAnonymousUser(w http.ResponseWriter, r *http.Request) {
	ext, err := h.svc.CreateAnonymousUser(r.Context(), domain.RoleAnonymous)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Data: ext})
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	ext, err := h.svc.Login(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: ext})
}

type socialLoginRequest struct {
	ProviderUserID string `json:"provider_user_id"`
	AccessToken    string `json:"access_token"`
}

// SocialLogin handles POST /api/v1/auth/social/{provider}. The client has
// already completed the provider handshake and presents the resulting
// access token.
func (h *Handler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	profiles, ok := h.providers[provider]
	if !ok {
		h.writeError(w, r, apperrors.InvalidInput("unsupported provider"))
		return
	}

	var req socialLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ProviderUserID == "" || req.AccessToken == "" {
		h.writeError(w, r, apperrors.InvalidInput("provider_user_id and access_token are required"))
		return
	}

	conn := social.NewProviderConnection(provider, req.ProviderUserID, req.AccessToken, h.links, profiles)

	ext, err := h.svc.SocialLogin(r.Context(), conn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: ext})
}

// GetUser handles GET /api/v1/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ext, err := h.svc.GetUser(r.Context(), RequesterFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: ext})
}

// UpdateUser handles PUT /api/v1/users/{id}.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateUserInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	ext, err := h.svc.UpdateUser(r.Context(), RequesterFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: ext})
}

// DeleteUser handles DELETE /api/v1/users/{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteUser(r.Context(), RequesterFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type linkConnectionRequest struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
}

// LinkConnection handles POST /api/v1/users/{id}/connections.
func (h *Handler) LinkConnection(w http.ResponseWriter, r *http.Request) {
	var req linkConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	err := h.svc.LinkConnection(r.Context(), RequesterFromContext(r.Context()),
		chi.URLParam(r, "id"), req.Provider, req.ProviderUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type sweepResponse struct {
	UsersAffected int `json:"users_affected"`
}

// SweepSessions handles POST /api/v1/admin/sessions/sweep. An optional
// staleness_minutes query parameter overrides the configured window.
func (h *Handler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	staleness := h.sweepStaleness
	if raw := r.URL.Query().Get("staleness_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			h.writeError(w, r, apperrors.InvalidInput("staleness_minutes must be a positive integer"))
			return
		}
		staleness = time.Duration(minutes) * time.Minute
	}

	affected, err := h.svc.SweepExpiredSessions(r.Context(), staleness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: sweepResponse{UsersAffected: affected}})
}
