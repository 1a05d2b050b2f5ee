package domain

import "time"

// SessionState is the lifecycle position of a session computed from its timestamps.
type SessionState string

const (
	SessionStateActive          SessionState = "active"
	SessionStateIdleExpired     SessionState = "idle_expired"
	SessionStateAbsoluteExpired SessionState = "absolute_expired"
	SessionStateRevoked         SessionState = "revoked"
)

// Session represents one authenticated device or login.
type Session struct {
	ID           string
	UserID       string
	AuthMethod   AuthMethod
	IP           *string
	UserAgent    *string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// StateAt evaluates the session against the supplied timeouts.
// Zero or negative timeouts disable the corresponding check.
func (s Session) StateAt(at time.Time, idleTimeout, absoluteLifetime time.Duration) SessionState {
	if s.RevokedAt != nil {
		return SessionStateRevoked
	}
	if absoluteLifetime > 0 && at.Sub(s.CreatedAt) > absoluteLifetime {
		return SessionStateAbsoluteExpired
	}
	if idleTimeout > 0 && at.Sub(s.LastSeenAt) > idleTimeout {
		return SessionStateIdleExpired
	}
	return SessionStateActive
}

// IsRevoked reports whether the session reached its terminal state.
func (s Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// Touch records activity on the session.
func (s *Session) Touch(at time.Time) {
	s.LastSeenAt = at
}

// Revoke marks the session as revoked.
// Returns true when the session changed state.
func (s *Session) Revoke(at time.Time, reason string) bool {
	if s.RevokedAt != nil {
		return false
	}
	timeCopy := at
	reasonCopy := reason
	s.RevokedAt = &timeCopy
	s.RevokeReason = &reasonCopy
	return true
}
