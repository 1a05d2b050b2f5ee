package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// Error taxonomy roots. Component errors below wrap exactly one root so callers can branch
// on the category with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrExpired            = errors.New("expired")
	ErrAlreadyConsumed    = errors.New("already consumed")
	ErrAlreadyRevoked     = errors.New("already revoked")
	ErrReuseDetected      = errors.New("reuse detected")
	ErrRateLimited        = errors.New("rate limited")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords alike.
	ErrInvalidCredentials = newKindError(ErrNotFound, "invalid credentials")
	// ErrAccountInactive indicates the account is disabled or deleted.
	ErrAccountInactive = newKindError(ErrValidation, "account is not active")
	// ErrTwoFactorRequired asks the caller to resubmit the login with a second factor.
	ErrTwoFactorRequired = newKindError(ErrValidation, "two-factor code required")
	// ErrTwoFactorInvalid indicates the supplied second factor did not verify.
	ErrTwoFactorInvalid = newKindError(ErrNotFound, "invalid two-factor code")

	ErrInvalidRefreshToken  = newKindError(ErrNotFound, "invalid refresh token")
	ErrExpiredRefreshToken  = newKindError(ErrExpired, "refresh token expired")
	ErrRefreshReuseDetected = newKindError(ErrReuseDetected, "refresh token reuse detected")

	ErrSessionNotFound        = newKindError(ErrNotFound, "session not found")
	ErrSessionForbidden       = newKindError(ErrNotFound, "session not owned by user")
	ErrSessionAlreadyRevoked  = newKindError(ErrAlreadyRevoked, "session already revoked")
	ErrSessionIdleExpired     = newKindError(ErrExpired, "session idle timeout exceeded")
	ErrSessionAbsoluteExpired = newKindError(ErrExpired, "session absolute lifetime exceeded")

	ErrAccessTokenExpired      = newKindError(ErrExpired, "access token expired")
	ErrAccessTokenBadSignature = newKindError(ErrValidation, "access token signature invalid")
	ErrAccessTokenMalformed    = newKindError(ErrValidation, "access token malformed")

	ErrInvalidCode  = newKindError(ErrNotFound, "invalid or expired code")
	ErrWeakPassword = newKindError(ErrValidation, "password does not meet policy")
)

// RateLimitedError reports a saturated fixed window and when it reopens.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// storeFailure wraps a repository error, tagging exhausted retries as ErrStoreUnavailable.
func storeFailure(op string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
