package domain

import (
	"strings"
	"time"
)

// AuthMethod records how a session was established.
type AuthMethod string

const (
	AuthMethodPassword  AuthMethod = "password"
	AuthMethodFederated AuthMethod = "federated"
)

// ParseAuthMethod normalises textual input, falling back to password.
func ParseAuthMethod(value string) AuthMethod {
	switch AuthMethod(strings.ToLower(strings.TrimSpace(value))) {
	case AuthMethodFederated:
		return AuthMethodFederated
	default:
		return AuthMethodPassword
	}
}

// User mirrors the persisted representation in the users table.
// The auth core only reads identity data and writes the verification flag and password hash.
type User struct {
	ID            string
	Email         string
	Username      string
	PasswordHash  string
	EmailVerified bool
	IsActive      bool
	Roles         []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// CanAuthenticate reports whether the account may start new sessions.
func (u User) CanAuthenticate() bool {
	return u.IsActive && u.DeletedAt == nil
}

// Sanitized returns a copy without the password hash.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	if len(u.Roles) > 0 {
		roles := make([]string, len(u.Roles))
		copy(roles, u.Roles)
		u.Roles = roles
	}
	return u
}

// NormalizeEmail canonicalises an email address for lookups and code subjects.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
