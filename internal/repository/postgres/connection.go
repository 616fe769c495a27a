package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/identity/pkg/database"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// ConnectionRepository implements repository.ConnectionRepository using
// PostgreSQL. A connection row links a social provider identity to a local
// user account.
type ConnectionRepository struct {
	db database.DBTX
}

// NewConnectionRepository creates a new PostgreSQL-backed connection repository.
func NewConnectionRepository(db database.DBTX) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// LinkedUserIDs returns the IDs of users linked to the given provider
// identity, oldest link first.
func (r *ConnectionRepository) LinkedUserIDs(ctx context.Context, provider, providerUserID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id
		FROM user_connections
		WHERE provider = $1 AND provider_user_id = $2
		ORDER BY created_at ASC`, provider, providerUserID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}

	return ids, nil
}

// Link records a connection between a local user and a provider identity.
func (r *ConnectionRepository) Link(ctx context.Context, userID, provider, providerUserID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_connections (user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		userID, provider, providerUserID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("connection", "provider_user_id", providerUserID)
		}
		return fmt.Errorf("insert connection: %w", err)
	}

	return nil
}
