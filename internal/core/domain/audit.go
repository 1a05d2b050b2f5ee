package domain

import "time"

// AuditAction tags a security-relevant event.
type AuditAction string

const (
	AuditLoginSuccess          AuditAction = "LoginSuccess"
	AuditLoginFailed           AuditAction = "LoginFailed"
	AuditLoginThrottled        AuditAction = "LoginThrottled"
	AuditTwoFactorRequired     AuditAction = "TwoFactorRequired"
	AuditTwoFactorFailed       AuditAction = "TwoFactorFailed"
	AuditTokenRefreshed        AuditAction = "TokenRefreshed"
	AuditRefreshReuseDetected  AuditAction = "RefreshReuseDetected"
	AuditRefreshRejected       AuditAction = "RefreshRejected"
	AuditLogout                AuditAction = "Logout"
	AuditLogoutOtherSessions   AuditAction = "LogoutOtherSessions"
	AuditSessionExpired        AuditAction = "SessionExpired"
	AuditOtpRequested          AuditAction = "OtpRequested"
	AuditOtpThrottled          AuditAction = "OtpThrottled"
	AuditOtpVerified           AuditAction = "OtpVerified"
	AuditOtpVerificationFailed AuditAction = "OtpVerificationFailed"
	AuditEmailVerified         AuditAction = "EmailVerified"
	AuditPasswordReset         AuditAction = "PasswordReset"
)

// AuditLog is an append-only record. The core never mutates or deletes entries.
type AuditLog struct {
	ID         string
	UserID     *string
	Action     AuditAction
	AuthMethod *string
	IP         *string
	UserAgent  *string
	Metadata   map[string]any
	At         time.Time
}
