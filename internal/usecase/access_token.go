package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
)

// ValidateOptions selects the clock-skew tolerance for one validation.
type ValidateOptions struct {
	Leeway time.Duration
}

// StrictValidation tolerates no clock skew; use it for trust-sensitive flows.
var StrictValidation = ValidateOptions{}

// IssuedAccessToken is a signed access token and its expiry.
type IssuedAccessToken struct {
	Token     string
	ExpiresAt time.Time
	JTI       string
}

// AccessTokenIssuer mints and validates stateless access tokens.
type AccessTokenIssuer struct {
	jwt           *security.JWTManager
	ttl           time.Duration
	generalLeeway time.Duration
	now           func() time.Time
}

// NewAccessTokenIssuer constructs an issuer. generalLeeway is the skew used by GeneralValidation.
func NewAccessTokenIssuer(manager *security.JWTManager, ttl, generalLeeway time.Duration) *AccessTokenIssuer {
	issuer := &AccessTokenIssuer{
		jwt:           manager,
		ttl:           ttl,
		generalLeeway: generalLeeway,
	}
	issuer.now = func() time.Time { return time.Now().UTC() }
	return issuer
}

// WithClock overrides the clock used for issuing and validating tokens.
func (i *AccessTokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
		i.jwt.WithClock(clock)
	}
}

// GeneralValidation returns the options for ordinary API calls.
func (i *AccessTokenIssuer) GeneralValidation() ValidateOptions {
	return ValidateOptions{Leeway: i.generalLeeway}
}

// TTL returns the configured access token lifetime.
func (i *AccessTokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs an access token for user, bound to sessionID when one is given.
func (i *AccessTokenIssuer) Issue(user domain.User, sessionID string) (*IssuedAccessToken, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		UserID:        user.ID,
		Username:      user.Username,
		EmailVerified: user.EmailVerified,
		SessionID:     sessionID,
		Roles:         user.Roles,
		Issuer:        i.jwt.Issuer(),
		Audience:      []string{i.jwt.Audience()},
		TTL:           i.ttl,
		IssuedAt:      i.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("build access token claims: %w", err)
	}

	token, err := i.jwt.SignAccessToken(claims)
	if err != nil {
		return nil, err
	}

	return &IssuedAccessToken{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		JTI:       claims.ID,
	}, nil
}

// Validate checks signature, issuer, audience and expiry. Failures wrap one of
// ErrAccessTokenExpired, ErrAccessTokenBadSignature or ErrAccessTokenMalformed.
func (i *AccessTokenIssuer) Validate(token string, opts ValidateOptions) (*security.AccessTokenClaims, error) {
	claims, err := i.jwt.ParseAccessToken(token, opts.Leeway)
	if err == nil {
		return claims, nil
	}

	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrAccessTokenExpired, err)
	case errors.Is(err, security.ErrTokenBadSignature):
		return nil, fmt.Errorf("%w: %w", ErrAccessTokenBadSignature, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrAccessTokenMalformed, err)
	}
}

// ValidationFailureReason maps a Validate error to expired, bad_signature or malformed.
func ValidationFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessTokenExpired):
		return "expired"
	case errors.Is(err, ErrAccessTokenBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}
