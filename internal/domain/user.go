package domain

import (
	"time"
)

// Session is one active login for a user. The token value is opaque and
// unguessable; LastAccessedAt drives expiry.
type Session struct {
	Token          string    `json:"token"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// User is the central identity aggregate. It owns its sessions: deleting the
// user deletes them. Sessions are kept most-recent-first, so Sessions[0] is
// the active session.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Verified     bool      `json:"verified"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	Role         Role      `json:"role"`
	Sessions     []Session `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AddSession prepends s so it becomes the active session.
func (u *User) AddSession(s Session) {
	u.Sessions = append([]Session{s}, u.Sessions...)
}

// ActiveSession returns the current session, if any.
func (u *User) ActiveSession() (Session, bool) {
	if len(u.Sessions) == 0 {
		return Session{}, false
	}
	return u.Sessions[0], true
}

// SetActiveSession moves the session with the given token to the front and
// stamps its last-accessed time. It reports whether the token was found;
// it never creates a session.
func (u *User) SetActiveSession(token string, now time.Time) bool {
	for i, s := range u.Sessions {
		if s.Token != token {
			continue
		}
		s.LastAccessedAt = now
		u.Sessions = append(u.Sessions[:i], u.Sessions[i+1:]...)
		u.Sessions = append([]Session{s}, u.Sessions...)
		return true
	}
	return false
}

// RemoveSessionsBefore drops sessions whose last-accessed time is strictly
// older than cutoff and returns how many were removed.
func (u *User) RemoveSessionsBefore(cutoff time.Time) int {
	kept := u.Sessions[:0]
	removed := 0
	for _, s := range u.Sessions {
		if s.LastAccessedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	u.Sessions = kept
	return removed
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(r Role) bool { return u.Role == r }

// ExternalUser is the projection of a User that is safe to return across the
// trust boundary. It never carries the password hash. ActiveSession is set
// only on freshly authenticated paths.
type ExternalUser struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Verified      bool   `json:"verified"`
	Role          string `json:"role"`
	ActiveSession string `json:"active_session,omitempty"`
}

// NewExternalUser projects a user without a session token.
func NewExternalUser(u *User) *ExternalUser {
	return &ExternalUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Verified:  u.Verified,
		Role:      u.Role.String(),
	}
}

// NewExternalUserWithSession projects a user carrying the given session token.
func NewExternalUserWithSession(u *User, token string) *ExternalUser {
	ext := NewExternalUser(u)
	ext.ActiveSession = token
	return ext
}
