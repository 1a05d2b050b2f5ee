package domain

import "time"

// TokenState is the rotation state of a refresh token derived from its stored fields.
type TokenState string

const (
	// TokenStateActive is the single live token of a family.
	TokenStateActive TokenState = "active"
	// TokenStateReplaced marks a token retired by rotation; presenting it again is reuse.
	TokenStateReplaced TokenState = "replaced"
	// TokenStateRevoked marks a token revoked without a successor (logout, breach response, sweep).
	TokenStateRevoked TokenState = "revoked"
	// TokenStateExpired marks an unrevoked token whose lifetime elapsed.
	TokenStateExpired TokenState = "expired"
)

// RefreshToken is the unit of rotation. Only the hash of the secret is ever stored.
type RefreshToken struct {
	ID           string
	UserID       string
	SessionID    string
	TokenHash    string
	FamilyID     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID *string
	RevokeReason *string
}

// StateAt computes the tagged state of the token at the supplied moment.
func (t RefreshToken) StateAt(at time.Time) TokenState {
	switch {
	case t.RevokedAt != nil && t.ReplacedByID != nil:
		return TokenStateReplaced
	case t.RevokedAt != nil:
		return TokenStateRevoked
	case t.IsExpired(at):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been revoked, with or without replacement.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time, reason string) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	reasonCopy := reason
	t.RevokedAt = &timeCopy
	t.RevokeReason = &reasonCopy
	return true
}

// ReplaceWith retires the token in favour of its successor.
// Returns false when the token was already retired.
func (t *RefreshToken) ReplaceWith(successorID string, at time.Time) bool {
	if !t.Revoke(at, RevokeReasonRotated) {
		return false
	}
	idCopy := successorID
	t.ReplacedByID = &idCopy
	return true
}

// Revocation reasons recorded on sessions and refresh tokens.
const (
	RevokeReasonRotated         = "rotated"
	RevokeReasonLogout          = "user_logout"
	RevokeReasonLogoutOthers    = "logout_other_sessions"
	RevokeReasonReuseDetected   = "reuse_detected"
	RevokeReasonExpired         = "expired"
	RevokeReasonIdleTimeout     = "idle_timeout"
	RevokeReasonAbsoluteTimeout = "absolute_lifetime"
	RevokeReasonSessionRevoked  = "session_revoked"
	RevokeReasonPasswordReset   = "password_reset"
)
