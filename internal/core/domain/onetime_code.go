package domain

import (
	"strings"
	"time"
)

// CodePurpose scopes a one-time code to a workflow.
type CodePurpose string

const (
	PurposeSignup        CodePurpose = "signup"
	PurposePasswordReset CodePurpose = "password_reset"
	PurposeEmailChange   CodePurpose = "email_change"

	PurposeTwoFactorLogin    CodePurpose = "login"
	PurposeTwoFactorRecovery CodePurpose = "recovery"
)

// OtpPurposes lists the purposes accepted for email-addressed codes.
var OtpPurposes = []CodePurpose{PurposeSignup, PurposePasswordReset, PurposeEmailChange}

// TwoFactorPurposes lists the purposes accepted for second-factor codes.
var TwoFactorPurposes = []CodePurpose{PurposeTwoFactorLogin, PurposeTwoFactorRecovery}

// ParseCodePurpose normalises textual input into a purpose; ok is false when it is not in allowed.
func ParseCodePurpose(value string, allowed []CodePurpose) (CodePurpose, bool) {
	candidate := CodePurpose(strings.ToLower(strings.TrimSpace(value)))
	for _, purpose := range allowed {
		if purpose == candidate {
			return candidate, true
		}
	}
	return "", false
}

// CodeSubject identifies who a code was issued to.
type CodeSubject interface {
	comparable
	// Key renders the subject for rate-limit keys and logs.
	Key() string
}

// EmailSubject addresses signup, password-reset and email-change codes.
// The user may not exist yet, so codes are keyed by email rather than user id.
type EmailSubject string

// Key implements CodeSubject.
func (s EmailSubject) Key() string {
	return NormalizeEmail(string(s))
}

// TwoFactorSubject addresses second-factor codes for an existing user and method.
type TwoFactorSubject struct {
	UserID   string
	MethodID string
}

// Key implements CodeSubject.
func (s TwoFactorSubject) Key() string {
	return s.UserID + ":" + s.MethodID
}

// CodeState is the lifecycle position of a one-time code.
type CodeState string

const (
	CodeStatePending           CodeState = "pending"
	CodeStateConsumed          CodeState = "consumed"
	CodeStateExpired           CodeState = "expired"
	CodeStateAttemptsExhausted CodeState = "attempts_exhausted"
)

// OneTimeCode is a single-use code stored as a hash.
type OneTimeCode[S CodeSubject] struct {
	ID         string
	Subject    S
	CodeHash   string
	Purpose    CodePurpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Attempts   int
}

// StateAt computes the code state for the supplied attempt ceiling.
func (c OneTimeCode[S]) StateAt(at time.Time, maxAttempts int) CodeState {
	switch {
	case c.ConsumedAt != nil:
		return CodeStateConsumed
	case maxAttempts > 0 && c.Attempts >= maxAttempts:
		return CodeStateAttemptsExhausted
	case !c.ExpiresAt.After(at):
		return CodeStateExpired
	default:
		return CodeStatePending
	}
}

// Consume marks the code as used.
// Returns true when the code transitions from unused to used.
func (c *OneTimeCode[S]) Consume(at time.Time) bool {
	if c.ConsumedAt != nil {
		return false
	}
	timeCopy := at
	c.ConsumedAt = &timeCopy
	return true
}
