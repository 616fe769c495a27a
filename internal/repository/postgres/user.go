package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/database"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
// The aggregate spans the users and user_sessions tables; Save rewrites the
// session rows so the stored order always matches the in-memory order.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository. The db
// may be a pool or a transaction.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, verified, password_hash, password_salt, role, created_at, updated_at`

// FindByEmail retrieves a user by email address. Anonymous accounts have an
// empty email and are never matched.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 AND email <> ''`

	return r.scanUser(ctx, query, email)
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`

	return r.scanUser(ctx, query, id)
}

// FindBySessionToken retrieves the user holding the given session token.
func (r *UserRepository) FindBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	query := `
		SELECT u.id, u.email, u.first_name, u.last_name, u.verified, u.password_hash, u.password_salt, u.role, u.created_at, u.updated_at
		FROM users u
		JOIN user_sessions s ON s.user_id = u.id
		WHERE s.token = $1`

	return r.scanUser(ctx, query, token)
}

// FindWithExpiredSessionsBefore returns every user that has at least one
// session last accessed strictly before cutoff.
func (r *UserRepository) FindWithExpiredSessionsBefore(ctx context.Context, cutoff time.Time) ([]*domain.User, error) {
	query := `
		SELECT DISTINCT u.id, u.email, u.first_name, u.last_name, u.verified, u.password_hash, u.password_salt, u.role, u.created_at, u.updated_at
		FROM users u
		JOIN user_sessions s ON s.user_id = u.id
		WHERE s.last_accessed_at < $1`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	for _, u := range users {
		if err := r.loadSessions(ctx, u); err != nil {
			return nil, err
		}
	}

	return users, nil
}

// Save persists the user and rewrites its session rows.
func (r *UserRepository) Save(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = u.UpdatedAt
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			verified = EXCLUDED.verified,
			password_hash = EXCLUDED.password_hash,
			password_salt = EXCLUDED.password_salt,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.FirstName,
		u.LastName,
		u.Verified,
		u.PasswordHash,
		u.PasswordSalt,
		u.Role.String(),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("upsert user: %w", err)
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, u.ID); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	for i, s := range u.Sessions {
		_, err := r.db.Exec(ctx, `
			INSERT INTO user_sessions (token, user_id, position, created_at, last_accessed_at)
			VALUES ($1, $2, $3, $4, $5)`,
			s.Token, u.ID, i, s.CreatedAt, s.LastAccessedAt,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}

	return nil
}

// SaveAll persists the given users.
func (r *UserRepository) SaveAll(ctx context.Context, users []*domain.User) error {
	for _, u := range users {
		if err := r.Save(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the user; session rows cascade.
func (r *UserRepository) Delete(ctx context.Context, u *domain.User) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, u.ID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// scanUser executes a query expected to return a single user row, then loads
// the user's sessions.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUserRow(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	if err := r.loadSessions(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(row rowScanner) (*domain.User, error) {
	var u domain.User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.Verified,
		&u.PasswordHash,
		&u.PasswordSalt,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Role = domain.Role(role)
	return &u, nil
}

func (r *UserRepository) loadSessions(ctx context.Context, u *domain.User) error {
	rows, err := r.db.Query(ctx, `
		SELECT token, created_at, last_accessed_at
		FROM user_sessions
		WHERE user_id = $1
		ORDER BY position ASC`, u.ID)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.Token, &s.CreatedAt, &s.LastAccessedAt); err != nil {
			return fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate session rows: %w", err)
	}

	u.Sessions = sessions
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
