package domain

import "time"

// SessionRevokedEvent represents the payload for auth.session.revoked messages.
type SessionRevokedEvent struct {
	EventID       string
	SessionID     string
	UserID        string
	RevokedAt     time.Time
	Reason        string
	TokensRevoked int
	IPAddress     *string
	Metadata      map[string]any
}

// RefreshReuseDetectedEvent represents the payload for auth.refresh.reuse_detected messages.
type RefreshReuseDetectedEvent struct {
	EventID        string
	UserID         string
	SessionID      string
	FamilyID       string
	TokenID        string
	TokensRevoked  int
	SessionRevoked bool
	DetectedAt     time.Time
	IPAddress      *string
	Metadata       map[string]any
}

// PasswordChangedEvent represents the payload for auth.user.password.changed messages.
type PasswordChangedEvent struct {
	EventID         string
	UserID          string
	ChangedAt       time.Time
	ChangedBy       string
	SessionsRevoked int
	Metadata        map[string]any
}

// AuditRecordedEvent carries an audit entry onto the event bus.
type AuditRecordedEvent struct {
	Entry AuditLog
}
