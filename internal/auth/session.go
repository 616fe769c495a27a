package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/clock"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// SessionManager issues, selects, and expires session tokens on the User
// aggregate. Token values are random UUIDs, backed by crypto/rand.
type SessionManager struct {
	clock clock.Clock
}

// NewSessionManager creates a session manager using the given clock.
func NewSessionManager(c clock.Clock) *SessionManager {
	return &SessionManager{clock: c}
}

// Issue generates a new unguessable token, attaches it to the user as the
// active session, and returns it.
func (m *SessionManager) Issue(u *domain.User) domain.Session {
	now := m.clock.Now()
	s := domain.Session{
		Token:          uuid.New().String(),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	u.AddSession(s)
	return s
}

// Active returns the user's current session. Every user returned by a
// creation or login path carries at least one session, so a NoSession error
// here indicates a defect elsewhere.
func (m *SessionManager) Active(u *domain.User) (domain.Session, error) {
	s, ok := u.ActiveSession()
	if !ok {
		return domain.Session{}, apperrors.NoSession(u.ID)
	}
	return s, nil
}

// SweepExpired removes every session last accessed strictly before cutoff
// across the given users. It returns the users that actually lost a session
// and the total number of sessions removed; untouched users are excluded.
func (m *SessionManager) SweepExpired(users []*domain.User, cutoff time.Time) ([]*domain.User, int) {
	var touched []*domain.User
	removed := 0
	for _, u := range users {
		if n := u.RemoveSessionsBefore(cutoff); n > 0 {
			removed += n
			touched = append(touched, u)
		}
	}
	return touched, removed
}
