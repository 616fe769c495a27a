package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/identity/internal/auth"
	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/event"
	"github.com/utafrali/identity/internal/repository"
	"github.com/utafrali/identity/internal/social"
	"github.com/utafrali/identity/pkg/clock"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

var (
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_session_sweep_runs_total",
		Help: "Total number of expired session sweep runs.",
	})
	sweptSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_swept_sessions_total",
		Help: "Total number of sessions removed by the sweeper.",
	})
)

// invalidCredentials is the single message for every authentication failure,
// so responses do not reveal whether an email is registered.
const invalidCredentials = "invalid email or password"

// CreateUserInput carries a signup request.
type CreateUserInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// LoginInput carries a password login request.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateUserInput carries a partial profile update. Nil fields are left
// unchanged.
type UpdateUserInput struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password" validate:"omitempty,min=8,max=128"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

// IdentityService implements account lifecycle, authentication, and session
// management over the user aggregate. All mutations run inside a unit of
// work; lifecycle events are published only after the transaction commits.
type IdentityService struct {
	uow         repository.UnitOfWork
	connections repository.ConnectionRepository
	hasher      auth.Hasher
	sessions    *auth.SessionManager
	clock       clock.Clock
	events      *event.Publisher
	logger      *slog.Logger
}

// New creates the identity service.
func New(
	uow repository.UnitOfWork,
	connections repository.ConnectionRepository,
	hasher auth.Hasher,
	sessions *auth.SessionManager,
	clk clock.Clock,
	events *event.Publisher,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		uow:         uow,
		connections: connections,
		hasher:      hasher,
		sessions:    sessions,
		clock:       clk,
		events:      events,
		logger:      logger,
	}
}

// CreateUser registers a new account with email and password credentials
// under the given role. The returned projection carries a fresh session
// token, so signup doubles as login. Fails with an already-exists error when
// the email is taken.
func (s *IdentityService) CreateUser(ctx context.Context, in CreateUserInput, role domain.Role) (*domain.ExternalUser, error) {
	if !role.Valid() {
		return nil, apperrors.InvalidInput("invalid role")
	}
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	var (
		u     *domain.User
		token string
	)
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		existing, err := users.FindByEmail(ctx, in.Email)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if existing != nil {
			return apperrors.AlreadyExists("user", "email", in.Email)
		}

		salt := auth.NewSalt()
		now := s.clock.Now()
		u = &domain.User{
			ID:           uuid.New().String(),
			Email:        in.Email,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Role:         role,
			PasswordSalt: salt,
			PasswordHash: s.hasher.Hash(in.Password, salt),
			CreatedAt:    now,
		}
		token = s.sessions.Issue(u).Token

		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.events.UserRegistered(ctx, u)
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", u.ID))

	return domain.NewExternalUserWithSession(u, token), nil
}

// CreateAnonymousUser registers an account with no credentials and no
// profile under the given role. Anonymous accounts let a client hold state
// before signup; they can later be promoted by a social login.
func (s *IdentityService) CreateAnonymousUser(ctx context.Context, role domain.Role) (*domain.ExternalUser, error) {
	if !role.Valid() {
		return nil, apperrors.InvalidInput("invalid role")
	}

	var (
		u     *domain.User
		token string
	)
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		u = &domain.User{
			ID:        uuid.New().String(),
			Role:      role,
			CreatedAt: s.clock.Now(),
		}
		token = s.sessions.Issue(u).Token

		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.events.UserRegistered(ctx, u)
	s.logger.InfoContext(ctx, "anonymous user registered", slog.String("user_id", u.ID))

	return domain.NewExternalUserWithSession(u, token), nil
}

// Login authenticates email and password credentials and issues a new
// session. Unknown emails and wrong passwords fail identically.
func (s *IdentityService) Login(ctx context.Context, in LoginInput) (*domain.ExternalUser, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	var (
		u     *domain.User
		token string
	)
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByEmail(ctx, in.Email)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.Unauthorized(invalidCredentials)
			}
			return err
		}
		if found.PasswordHash == "" || !s.hasher.Verify(in.Password, found.PasswordSalt, found.PasswordHash) {
			return apperrors.Unauthorized(invalidCredentials)
		}

		u = found
		token = s.sessions.Issue(u).Token

		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", u.ID))

	return domain.NewExternalUserWithSession(u, token), nil
}

// SocialLogin authenticates a completed third-party handshake against an
// existing linked account. It never creates an account: an unlinked
// connection is an authentication failure. On success the provider profile
// overwrites the local one, the account is marked verified, anonymous
// accounts are promoted, and a new session is issued.
func (s *IdentityService) SocialLogin(ctx context.Context, conn social.Connection) (*domain.ExternalUser, error) {
	// Both remote calls happen before the transaction opens.
	linked, err := conn.LinkedUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		return nil, apperrors.Unauthorized("no account linked to this identity")
	}

	profile, err := conn.FetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	var (
		u     *domain.User
		token string
	)
	err = s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByID(ctx, linked[0])
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.Unauthorized("no account linked to this identity")
			}
			return err
		}

		found.Email = profile.Email
		found.FirstName = profile.FirstName
		found.LastName = profile.LastName
		found.Verified = true
		if found.HasRole(domain.RoleAnonymous) {
			found.Role = domain.RoleAuthenticated
		}

		u = found
		token = s.sessions.Issue(u).Token

		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.events.UserUpdated(ctx, u)
	s.logger.InfoContext(ctx, "social login", slog.String("user_id", u.ID))

	return domain.NewExternalUserWithSession(u, token), nil
}

// GetUser returns the external projection of the given account. Callers may
// read themselves; administrators may read anyone.
func (s *IdentityService) GetUser(ctx context.Context, requester *domain.ExternalUser, id string) (*domain.ExternalUser, error) {
	if err := authorizeSelfOrAdmin(requester, id); err != nil {
		return nil, err
	}

	var u *domain.User
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("user", id)
			}
			return err
		}
		u = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return domain.NewExternalUser(u), nil
}

// UpdateUser applies a partial profile update. Callers may update
// themselves; administrators may update anyone. Changing the email to a
// different address resets verification.
func (s *IdentityService) UpdateUser(ctx context.Context, requester *domain.ExternalUser, id string, in UpdateUserInput) (*domain.ExternalUser, error) {
	if err := authorizeSelfOrAdmin(requester, id); err != nil {
		return nil, err
	}
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	var u *domain.User
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("user", id)
			}
			return err
		}

		if in.Email != nil && *in.Email != found.Email {
			found.Email = *in.Email
			found.Verified = false
		}
		if in.FirstName != nil {
			found.FirstName = *in.FirstName
		}
		if in.LastName != nil {
			found.LastName = *in.LastName
		}
		if in.Password != nil {
			salt := auth.NewSalt()
			found.PasswordSalt = salt
			found.PasswordHash = s.hasher.Hash(*in.Password, salt)
		}

		u = found
		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.events.UserUpdated(ctx, u)
	s.logger.InfoContext(ctx, "user updated", slog.String("user_id", u.ID))

	return domain.NewExternalUser(u), nil
}

// DeleteUser removes an account and all its sessions. Only administrators
// may delete, and administrator accounts cannot be deleted.
func (s *IdentityService) DeleteUser(ctx context.Context, requester *domain.ExternalUser, id string) error {
	if requester == nil {
		return apperrors.Unauthorized("authentication required")
	}
	if requester.Role != domain.RoleAdministrator.String() {
		return apperrors.Forbidden("administrator role required")
	}

	var u *domain.User
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("user", id)
			}
			return err
		}
		if found.HasRole(domain.RoleAdministrator) {
			return apperrors.Forbidden("administrator accounts cannot be deleted")
		}

		u = found
		return users.Delete(ctx, u)
	})
	if err != nil {
		return err
	}

	s.events.UserDeleted(ctx, u)
	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", u.ID),
		slog.String("deleted_by", requester.ID),
	)

	return nil
}

// SweepExpiredSessions removes every session whose last access is older than
// now minus staleness and returns the number of users affected. Only users
// that actually lost a session are written back.
func (s *IdentityService) SweepExpiredSessions(ctx context.Context, staleness time.Duration) (int, error) {
	if staleness <= 0 {
		return 0, apperrors.InvalidInput("staleness must be positive")
	}
	cutoff := s.clock.Now().Add(-staleness)

	var affected int
	var removed int
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		stale, err := users.FindWithExpiredSessionsBefore(ctx, cutoff)
		if err != nil {
			return err
		}

		touched, n := s.sessions.SweepExpired(stale, cutoff)
		removed = n
		affected = len(touched)
		if affected == 0 {
			return nil
		}

		return users.SaveAll(ctx, touched)
	})
	if err != nil {
		return 0, err
	}

	sweepRuns.Inc()
	sweptSessions.Add(float64(removed))
	if affected > 0 {
		s.logger.InfoContext(ctx, "expired sessions swept",
			slog.Int("users_affected", affected),
			slog.Int("sessions_removed", removed),
		)
	}

	return affected, nil
}

// AttachSession marks an existing token as the account's active session and
// touches its last-accessed time. It never creates a session: an unknown
// token is treated as already expired.
func (s *IdentityService) AttachSession(ctx context.Context, userID, token string) (*domain.ExternalUser, error) {
	var u *domain.User
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.Unauthorized("session expired")
			}
			return err
		}
		if !found.SetActiveSession(token, s.clock.Now()) {
			return apperrors.Unauthorized("session expired")
		}

		u = found
		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.Active(u)
	if err != nil {
		return nil, err
	}

	return domain.NewExternalUserWithSession(u, active.Token), nil
}

// ResolveSession authenticates a bearer token: it finds the holding account,
// promotes the token to the active session, and touches its last-accessed
// time so use keeps a session alive.
func (s *IdentityService) ResolveSession(ctx context.Context, token string) (*domain.ExternalUser, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("session token required")
	}

	var u *domain.User
	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		found, err := users.FindBySessionToken(ctx, token)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.Unauthorized("invalid session token")
			}
			return err
		}
		if !found.SetActiveSession(token, s.clock.Now()) {
			return apperrors.Unauthorized("invalid session token")
		}

		u = found
		return users.Save(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.Active(u)
	if err != nil {
		return nil, err
	}

	return domain.NewExternalUserWithSession(u, active.Token), nil
}

// LinkConnection records that a provider identity belongs to the given
// account. Callers may link to themselves; administrators may link anyone.
func (s *IdentityService) LinkConnection(ctx context.Context, requester *domain.ExternalUser, userID, provider, providerUserID string) error {
	if err := authorizeSelfOrAdmin(requester, userID); err != nil {
		return err
	}
	if provider == "" || providerUserID == "" {
		return apperrors.InvalidInput("provider and provider user id are required")
	}

	err := s.uow.Do(ctx, func(ctx context.Context, users repository.UserRepository) error {
		if _, err := users.FindByID(ctx, userID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("user", userID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.connections.Link(ctx, userID, provider, providerUserID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "connection linked",
		slog.String("user_id", userID),
		slog.String("provider", provider),
	)

	return nil
}

func authorizeSelfOrAdmin(requester *domain.ExternalUser, targetID string) error {
	if requester == nil {
		return apperrors.Unauthorized("authentication required")
	}
	if requester.ID == targetID || requester.Role == domain.RoleAdministrator.String() {
		return nil
	}
	return apperrors.Forbidden("not allowed to access this user")
}
