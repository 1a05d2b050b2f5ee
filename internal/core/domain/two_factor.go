package domain

import (
	"strings"
	"time"
)

// TwoFactorType enumerates second-factor mechanisms.
type TwoFactorType string

const (
	TwoFactorTOTP        TwoFactorType = "totp"
	TwoFactorSMS         TwoFactorType = "sms"
	TwoFactorEmail       TwoFactorType = "email"
	TwoFactorBackupCodes TwoFactorType = "backup_codes"
)

// ParseTwoFactorType normalises textual input into a known type.
func ParseTwoFactorType(value string) (TwoFactorType, bool) {
	switch t := TwoFactorType(strings.ToLower(strings.TrimSpace(value))); t {
	case TwoFactorTOTP, TwoFactorSMS, TwoFactorEmail, TwoFactorBackupCodes:
		return t, true
	default:
		return "", false
	}
}

// TwoFactorMethod is a second factor enrolled by a user.
type TwoFactorMethod struct {
	ID          string
	UserID      string
	Type        TwoFactorType
	Secret      *string
	PhoneNumber *string
	IsActive    bool
	CreatedAt   time.Time
}

// UsesIssuedCodes reports whether verification goes through server-issued codes
// rather than a shared secret.
func (m TwoFactorMethod) UsesIssuedCodes() bool {
	return m.Type == TwoFactorSMS || m.Type == TwoFactorEmail || m.Type == TwoFactorBackupCodes
}
