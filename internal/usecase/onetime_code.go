package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// CodeSettings configures one instantiation of the code engine.
type CodeSettings struct {
	TTL         time.Duration
	MaxAttempts int
	Length      int
	// PurgeGrace keeps expired codes around so late verifications still answer Expired.
	// Defaults to TTL.
	PurgeGrace time.Duration
}

// IssuedCode is returned once to the caller for delivery; only its hash is stored.
type IssuedCode struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// VerifyOutcome classifies a verification attempt.
type VerifyOutcome int

const (
	VerifyConsumed VerifyOutcome = iota
	VerifyMismatch
	VerifyExpired
	VerifyAttemptsExhausted
	VerifyNotFound
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifyConsumed:
		return "consumed"
	case VerifyMismatch:
		return "mismatch"
	case VerifyExpired:
		return "expired"
	case VerifyAttemptsExhausted:
		return "attempts_exhausted"
	case VerifyNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// OneTimeCodeEngine issues and verifies short numeric codes for one subject type.
type OneTimeCodeEngine[S domain.CodeSubject] struct {
	codes    port.OneTimeCodeRepository[S]
	hasher   port.CodeHasher
	limiter  *RateLimiter
	rule     RateLimitRule
	settings CodeSettings
	retry    repository.RetryPolicy
	logger   *zap.Logger

	now      func() time.Time
	newID    func() string
	generate func(length int) (string, error)
}

// NewOneTimeCodeEngine constructs an engine. A nil limiter disables issuance throttling.
func NewOneTimeCodeEngine[S domain.CodeSubject](
	codes port.OneTimeCodeRepository[S],
	hasher port.CodeHasher,
	limiter *RateLimiter,
	rule RateLimitRule,
	settings CodeSettings,
	logger *zap.Logger,
) *OneTimeCodeEngine[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.TTL <= 0 {
		settings.TTL = 10 * time.Minute
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}
	if settings.Length <= 0 {
		settings.Length = 6
	}
	if settings.PurgeGrace <= 0 {
		settings.PurgeGrace = settings.TTL
	}

	engine := &OneTimeCodeEngine[S]{
		codes:    codes,
		hasher:   hasher,
		limiter:  limiter,
		rule:     rule,
		settings: settings,
		logger:   logger,
		newID:    uuid.NewString,
		generate: security.GenerateNumericCode,
	}
	engine.now = func() time.Time { return time.Now().UTC() }
	return engine
}

// WithRetryPolicy bounds store calls.
func (e *OneTimeCodeEngine[S]) WithRetryPolicy(policy repository.RetryPolicy) *OneTimeCodeEngine[S] {
	e.retry = policy
	return e
}

// WithClock overrides the engine clock for deterministic tests.
func (e *OneTimeCodeEngine[S]) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Settings returns the effective configuration.
func (e *OneTimeCodeEngine[S]) Settings() CodeSettings {
	return e.settings
}

// Issue creates a fresh code for subject and purpose after consulting the rate limiter.
// Older unconsumed codes stay in the store but only the newest one is ever verified.
func (e *OneTimeCodeEngine[S]) Issue(ctx context.Context, subject S, purpose domain.CodePurpose) (*IssuedCode, error) {
	key := subject.Key()
	if strings.TrimSpace(key) == "" || purpose == "" {
		return nil, fmt.Errorf("%w: subject and purpose are required", ErrValidation)
	}

	if e.limiter != nil {
		if _, err := e.limiter.Enforce(ctx, codeKey(purpose, key), e.rule); err != nil {
			return nil, err
		}
	}

	code, err := e.generate(e.settings.Length)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	now := e.now()
	record := domain.OneTimeCode[S]{
		ID:        e.newID(),
		Subject:   subject,
		CodeHash:  e.hasher.Hash(code),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(e.settings.TTL),
	}

	if err := e.retry.Do(ctx, func(ctx context.Context) error {
		return e.codes.Create(ctx, record)
	}); err != nil {
		return nil, storeFailure("create one-time code", err)
	}

	return &IssuedCode{ID: record.ID, Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// Verify checks candidate against the newest unconsumed code for subject and purpose.
// Every call spends one attempt, so the ceiling holds even for the correct code.
func (e *OneTimeCodeEngine[S]) Verify(ctx context.Context, subject S, purpose domain.CodePurpose, candidate string) (VerifyOutcome, error) {
	candidate = strings.TrimSpace(candidate)

	code, err := repository.Call(ctx, e.retry, func(ctx context.Context) (*domain.OneTimeCode[S], error) {
		return e.codes.LatestUnconsumed(ctx, subject, purpose)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return VerifyNotFound, nil
		}
		return VerifyNotFound, storeFailure("load one-time code", err)
	}

	now := e.now()
	state := code.StateAt(now, e.settings.MaxAttempts)
	if state == domain.CodeStateConsumed {
		return VerifyNotFound, nil
	}

	// Expired codes still spend an attempt; the counter itself never passes the ceiling.
	_, err = repository.Call(ctx, e.retry, func(ctx context.Context) (int, error) {
		return e.codes.IncrementAttempts(ctx, code.ID, e.settings.MaxAttempts)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return VerifyAttemptsExhausted, nil
		}
		return VerifyNotFound, storeFailure("count code attempt", err)
	}

	switch state {
	case domain.CodeStateAttemptsExhausted:
		return VerifyAttemptsExhausted, nil
	case domain.CodeStateExpired:
		return VerifyExpired, nil
	}

	if candidate == "" || !e.hasher.Equal(candidate, code.CodeHash) {
		return VerifyMismatch, nil
	}

	err = e.retry.Do(ctx, func(ctx context.Context) error {
		return e.codes.Consume(ctx, code.ID, now)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			return VerifyNotFound, nil
		}
		return VerifyNotFound, storeFailure("consume one-time code", err)
	}

	return VerifyConsumed, nil
}

// PurgeExpired deletes up to limit codes that expired more than PurgeGrace ago.
func (e *OneTimeCodeEngine[S]) PurgeExpired(ctx context.Context, limit int) (int, error) {
	cutoff := e.now().Add(-e.settings.PurgeGrace)
	count, err := repository.Call(ctx, e.retry, func(ctx context.Context) (int, error) {
		return e.codes.PurgeExpired(ctx, cutoff, limit)
	})
	if err != nil {
		return 0, storeFailure("purge one-time codes", err)
	}
	return count, nil
}
