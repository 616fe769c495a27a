package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/logger"
)

type contextKey string

const requesterKey contextKey = "requester"

// RequesterFromContext returns the authenticated caller, if any.
func RequesterFromContext(ctx context.Context) *domain.ExternalUser {
	u, _ := ctx.Value(requesterKey).(*domain.ExternalUser)
	return u
}

// SessionAuth authenticates requests by bearer session token. Resolving a
// token also touches its last-accessed time, so authenticated traffic keeps
// its session alive.
func (h *Handler) SessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, r, apperrors.Unauthorized("session token required"))
			return
		}

		requester, err := h.svc.ResolveSession(r.Context(), token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), requesterKey, requester)
		ctx = logger.WithUserID(ctx, requester.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated callers that are not administrators.
// Must run after SessionAuth.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester := RequesterFromContext(r.Context())
		if requester == nil {
			h.writeError(w, r, apperrors.Unauthorized("authentication required"))
			return
		}
		if requester.Role != domain.RoleAdministrator.String() {
			h.logger.WarnContext(r.Context(), "admin route denied",
				slog.String("user_id", requester.ID),
				slog.String("path", r.URL.Path),
			)
			h.writeError(w, r, apperrors.Forbidden("administrator role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
