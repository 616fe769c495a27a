package domain

import "fmt"

// Role is the closed set of privilege tiers a user can hold, ordered from
// least to most privileged.
type Role string

const (
	RoleAnonymous     Role = "anonymous"
	RoleAuthenticated Role = "authenticated"
	RoleAdministrator Role = "administrator"
)

// ParseRole converts a string into a Role, rejecting anything outside the
// closed enumeration.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAnonymous, RoleAuthenticated, RoleAdministrator:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether the role is a member of the enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleAnonymous, RoleAuthenticated, RoleAdministrator:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
