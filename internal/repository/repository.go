package repository

import (
	"context"
	"time"

	"github.com/utafrali/identity/internal/domain"
)

// UserRepository defines the persistence contract for the User aggregate.
// Lookups that find no row return pkg/errors.ErrNotFound. Save persists the
// whole aggregate including its sessions.
type UserRepository interface {
	// FindByEmail retrieves a user by email address.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	// FindByID retrieves a user by their unique identifier.
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// FindBySessionToken retrieves the user holding the given session token.
	FindBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// FindWithExpiredSessionsBefore returns every user possessing at least
	// one session last accessed strictly before cutoff.
	FindWithExpiredSessionsBefore(ctx context.Context, cutoff time.Time) ([]*domain.User, error)

	// Save persists the user and its sessions, creating or updating as needed.
	Save(ctx context.Context, u *domain.User) error

	// SaveAll persists the given users.
	SaveAll(ctx context.Context, users []*domain.User) error

	// Delete removes the user and, by composition, its sessions.
	Delete(ctx context.Context, u *domain.User) error
}

// ConnectionRepository defines persistence for third-party identity links.
type ConnectionRepository interface {
	// LinkedUserIDs returns the local user identifiers linked to the given
	// provider identity, in stable insertion order.
	LinkedUserIDs(ctx context.Context, provider, providerUserID string) ([]string, error)

	// Link records that the provider identity belongs to the given user.
	Link(ctx context.Context, userID, provider, providerUserID string) error
}

// UnitOfWork runs fn inside one transaction. The repository handed to fn is
// bound to that transaction; fn returning an error rolls everything back, so
// multi-step operations leave no partial state behind.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, users UserRepository) error) error
}
