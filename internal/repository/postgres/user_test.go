package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/database"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

func newMockRepo(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewUserRepository(mock), mock
}

func userRows(u *domain.User) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "verified",
		"password_hash", "password_salt", "role", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.Email, u.FirstName, u.LastName, u.Verified,
		u.PasswordHash, u.PasswordSalt, u.Role.String(), u.CreatedAt, u.UpdatedAt,
	)
}

func sessionRows(sessions ...domain.Session) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"token", "created_at", "last_accessed_at"})
	for _, s := range sessions {
		rows.AddRow(s.Token, s.CreatedAt, s.LastAccessedAt)
	}
	return rows
}

func TestUserRepository_FindByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	u := &domain.User{
		ID:        "user-1",
		Email:     "jo@example.com",
		FirstName: "Jo",
		Role:      domain.RoleAuthenticated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	session := domain.Session{Token: "tok-1", CreatedAt: now, LastAccessedAt: now}

	mock.ExpectQuery(`WHERE email = \$1 AND email <> ''`).
		WithArgs("jo@example.com").
		WillReturnRows(userRows(u))
	mock.ExpectQuery(`ORDER BY position ASC`).
		WithArgs("user-1").
		WillReturnRows(sessionRows(session))

	got, err := repo.FindByEmail(context.Background(), "jo@example.com")

	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, domain.RoleAuthenticated, got.Role)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "tok-1", got.Sessions[0].Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByEmail_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	// An empty result set surfaces as pgx.ErrNoRows on QueryRow.
	mock.ExpectQuery(`WHERE email = \$1 AND email <> ''`).
		WithArgs("missing@example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "email", "first_name", "last_name", "verified",
			"password_hash", "password_salt", "role", "created_at", "updated_at",
		}))

	_, err := repo.FindByEmail(context.Background(), "missing@example.com")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindBySessionToken(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	u := &domain.User{ID: "user-1", Role: domain.RoleAnonymous, CreatedAt: now, UpdatedAt: now}
	session := domain.Session{Token: "tok-1", CreatedAt: now, LastAccessedAt: now}

	mock.ExpectQuery(`WHERE s\.token = \$1`).
		WithArgs("tok-1").
		WillReturnRows(userRows(u))
	mock.ExpectQuery(`ORDER BY position ASC`).
		WithArgs("user-1").
		WillReturnRows(sessionRows(session))

	got, err := repo.FindBySessionToken(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindWithExpiredSessionsBefore(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	cutoff := now.Add(-30 * time.Minute)
	u := &domain.User{ID: "user-1", Role: domain.RoleAuthenticated, CreatedAt: now, UpdatedAt: now}
	stale := domain.Session{Token: "tok-old", CreatedAt: now.Add(-2 * time.Hour), LastAccessedAt: now.Add(-time.Hour)}

	mock.ExpectQuery(`WHERE s\.last_accessed_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(userRows(u))
	mock.ExpectQuery(`ORDER BY position ASC`).
		WithArgs("user-1").
		WillReturnRows(sessionRows(stale))

	users, err := repo.FindWithExpiredSessionsBefore(context.Background(), cutoff)

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "tok-old", users[0].Sessions[0].Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Save(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	u := &domain.User{
		ID:        "user-1",
		Email:     "jo@example.com",
		Role:      domain.RoleAuthenticated,
		CreatedAt: now,
		Sessions: []domain.Session{
			{Token: "tok-new", CreatedAt: now, LastAccessedAt: now},
			{Token: "tok-old", CreatedAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-time.Hour)},
		},
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.FirstName, u.LastName, u.Verified,
			u.PasswordHash, u.PasswordSalt, u.Role.String(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM user_sessions WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO user_sessions`).
		WithArgs("tok-new", "user-1", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO user_sessions`).
		WithArgs("tok-old", "user-1", 1, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Save(context.Background(), u)

	require.NoError(t, err)
	assert.False(t, u.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Save_DuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	u := &domain.User{ID: "user-2", Email: "jo@example.com", Role: domain.RoleAuthenticated}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.FirstName, u.LastName, u.Verified,
			u.PasswordHash, u.PasswordSalt, u.Role.String(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key" (SQLSTATE 23505)`))

	err := repo.Save(context.Background(), u)

	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Delete(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := repo.Delete(context.Background(), &domain.User{ID: "user-1"})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Delete_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("user-9").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), &domain.User{ID: "user-9"})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepository_LinkedUserIDs(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo := NewConnectionRepository(mock)

	mock.ExpectQuery(`WHERE provider = \$1 AND provider_user_id = \$2`).
		WithArgs("facebook", "fb-123").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1").AddRow("user-2"))

	ids, err := repo.LinkedUserIDs(context.Background(), "facebook", "fb-123")

	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepository_Link(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo := NewConnectionRepository(mock)

	mock.ExpectExec(`INSERT INTO user_connections`).
		WithArgs("user-1", "facebook", "fb-123", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Link(context.Background(), "user-1", "facebook", "fb-123")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
