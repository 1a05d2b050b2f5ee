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
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/telemetry"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// RotatorSettings configures refresh token lifetimes and the breach response.
type RotatorSettings struct {
	RefreshTTL  time.Duration
	ReusePolicy domain.ReusePolicy
}

// IssuedRefreshToken pairs the opaque secret handed to the client with its stored record.
// The secret is never persisted.
type IssuedRefreshToken struct {
	Secret string
	Token  domain.RefreshToken
}

// RotationResult describes a successful rotation.
type RotationResult struct {
	Secret   string
	Token    domain.RefreshToken
	Session  domain.Session
	Previous domain.RefreshToken
}

// RefreshRotator issues refresh tokens and rotates them with reuse detection.
// Each token family belongs to one session and has at most one live member.
type RefreshRotator struct {
	tx       port.Transactor
	tokens   port.RefreshTokenRepository
	sessions *SessionManager
	events   port.EventPublisher
	audit    *AuditRecorder
	metrics  *telemetry.Metrics
	settings RotatorSettings
	retry    repository.RetryPolicy
	logger   *zap.Logger

	now       func() time.Time
	newID     func() string
	newSecret func() (string, error)
}

// NewRefreshRotator constructs a RefreshRotator.
func NewRefreshRotator(tx port.Transactor, tokens port.RefreshTokenRepository, sessions *SessionManager, settings RotatorSettings, logger *zap.Logger) *RefreshRotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.RefreshTTL <= 0 {
		settings.RefreshTTL = 30 * 24 * time.Hour
	}
	rotator := &RefreshRotator{
		tx:        tx,
		tokens:    tokens,
		sessions:  sessions,
		settings:  settings,
		logger:    logger,
		newID:     uuid.NewString,
		newSecret: security.GenerateRefreshSecret,
	}
	rotator.now = func() time.Time { return time.Now().UTC() }
	return rotator
}

// WithEvents publishes reuse events through events.
func (r *RefreshRotator) WithEvents(events port.EventPublisher) *RefreshRotator {
	r.events = events
	return r
}

// WithAudit records reuse detections through audit.
func (r *RefreshRotator) WithAudit(audit *AuditRecorder) *RefreshRotator {
	r.audit = audit
	return r
}

// WithMetrics counts reuse detections.
func (r *RefreshRotator) WithMetrics(metrics *telemetry.Metrics) *RefreshRotator {
	r.metrics = metrics
	return r
}

// WithRetryPolicy bounds store calls and rotation transactions.
func (r *RefreshRotator) WithRetryPolicy(policy repository.RetryPolicy) *RefreshRotator {
	r.retry = policy
	return r
}

// WithClock overrides the rotator clock for deterministic tests.
func (r *RefreshRotator) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// IssueInitial starts a new token family for the session. A non-positive ttl falls back to the configured refresh TTL.
func (r *RefreshRotator) IssueInitial(ctx context.Context, userID, sessionID string, ttl time.Duration) (*IssuedRefreshToken, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: user id and session id are required", ErrValidation)
	}
	if ttl <= 0 {
		ttl = r.settings.RefreshTTL
	}

	issued, err := r.initialToken(userID, sessionID, ttl)
	if err != nil {
		return nil, err
	}

	if err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.tokens.Create(ctx, issued.Token)
	}); err != nil {
		return nil, storeFailure("create refresh token", err)
	}

	return issued, nil
}

// OpenSession stores session and the first token of its family in one transaction, so a
// failed insert never leaves a session without a refresh token.
func (r *RefreshRotator) OpenSession(ctx context.Context, session domain.Session, ttl time.Duration) (*IssuedRefreshToken, error) {
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.UserID) == "" {
		return nil, fmt.Errorf("%w: user id and session id are required", ErrValidation)
	}
	if ttl <= 0 {
		ttl = r.settings.RefreshTTL
	}

	issued, err := r.initialToken(session.UserID, session.ID, ttl)
	if err != nil {
		return nil, err
	}

	if err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			if err := repos.Sessions().Create(ctx, session); err != nil {
				return err
			}
			return repos.RefreshTokens().Create(ctx, issued.Token)
		})
	}); err != nil {
		return nil, storeFailure("open session", err)
	}

	return issued, nil
}

func (r *RefreshRotator) initialToken(userID, sessionID string, ttl time.Duration) (*IssuedRefreshToken, error) {
	secret, err := r.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	now := r.now()
	return &IssuedRefreshToken{
		Secret: secret,
		Token: domain.RefreshToken{
			ID:        r.newID(),
			UserID:    userID,
			SessionID: sessionID,
			TokenHash: security.HashToken(secret),
			FamilyID:  r.newID(),
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		},
	}, nil
}

// Lookup resolves a presented secret to its stored record without changing it.
func (r *RefreshRotator) Lookup(ctx context.Context, secret string) (*domain.RefreshToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidRefreshToken
	}

	token, err := repository.Call(ctx, r.retry, func(ctx context.Context) (*domain.RefreshToken, error) {
		return r.tokens.GetByHashForUpdate(ctx, security.HashToken(secret))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeFailure("lookup refresh token", err)
	}
	return token, nil
}

type rotationOutcome struct {
	result  *RotationResult
	err     error
	reuse   *domain.RefreshReuseDetectedEvent
	expired *domain.Session
}

// Rotate exchanges a live refresh token for its successor in one transaction.
//
// Presenting a token that was already rotated is treated as theft: the whole family is revoked
// (and the session too when the reuse policy says so) and ErrRefreshReuseDetected is returned.
// Rejections that revoke something still commit those revocations.
func (r *RefreshRotator) Rotate(ctx context.Context, secret string, device DeviceInfo) (*RotationResult, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidRefreshToken
	}
	hash := security.HashToken(secret)

	nextSecret, err := r.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	nextHash := security.HashToken(nextSecret)

	var outcome rotationOutcome
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		outcome = rotationOutcome{}
		return r.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			var err error
			outcome, err = r.rotateTx(ctx, repos, hash, nextHash)
			return err
		})
	})
	if err != nil {
		var kind *kindError
		if errors.As(err, &kind) {
			return nil, err
		}
		return nil, storeFailure("rotate refresh token", err)
	}

	if outcome.reuse != nil {
		r.reportReuse(ctx, *outcome.reuse, device)
	}
	if outcome.expired != nil && r.sessions != nil {
		reason := expiryReason(outcome.err)
		r.sessions.publishRevoked(ctx, *outcome.expired, reason, 0, r.now())
		r.sessions.recordExpiry(ctx, *outcome.expired, outcome.err)
	}
	if outcome.err != nil {
		return nil, outcome.err
	}

	outcome.result.Secret = nextSecret
	return outcome.result, nil
}

func (r *RefreshRotator) rotateTx(ctx context.Context, repos port.TxRepositories, hash, nextHash string) (rotationOutcome, error) {
	now := r.now()
	tokens := repos.RefreshTokens()

	current, err := tokens.GetByHashForUpdate(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return rotationOutcome{err: ErrInvalidRefreshToken}, nil
		}
		return rotationOutcome{}, err
	}

	switch current.StateAt(now) {
	case domain.TokenStateReplaced:
		return r.revokeForReuse(ctx, repos, *current, now)
	case domain.TokenStateRevoked:
		return rotationOutcome{err: ErrInvalidRefreshToken}, nil
	case domain.TokenStateExpired:
		if _, err := tokens.Revoke(ctx, current.ID, domain.RevokeReasonExpired, now); err != nil {
			return rotationOutcome{}, err
		}
		return rotationOutcome{err: ErrExpiredRefreshToken}, nil
	}

	session, err := repos.Sessions().GetByID(ctx, current.SessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return rotationOutcome{}, err
		}
		if _, err := tokens.Revoke(ctx, current.ID, domain.RevokeReasonSessionRevoked, now); err != nil {
			return rotationOutcome{}, err
		}
		return rotationOutcome{err: ErrInvalidRefreshToken}, nil
	}

	if sessionErr := r.evaluateSession(*session, now); sessionErr != nil {
		if errors.Is(sessionErr, ErrSessionAlreadyRevoked) {
			if _, err := tokens.Revoke(ctx, current.ID, domain.RevokeReasonSessionRevoked, now); err != nil {
				return rotationOutcome{}, err
			}
			return rotationOutcome{err: sessionErr}, nil
		}

		reason := expiryReason(sessionErr)
		if _, err := repos.Sessions().Revoke(ctx, session.ID, reason, now); err != nil {
			return rotationOutcome{}, err
		}
		if _, err := tokens.RevokeFamily(ctx, current.FamilyID, reason, now); err != nil {
			return rotationOutcome{}, err
		}
		return rotationOutcome{err: sessionErr, expired: session}, nil
	}

	successor := domain.RefreshToken{
		ID:        r.newID(),
		UserID:    current.UserID,
		SessionID: current.SessionID,
		TokenHash: nextHash,
		FamilyID:  current.FamilyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.successorLifetime(*current)),
	}

	// the predecessor is retired first so a concurrent rotation of the same token fails the conditional update
	if err := tokens.MarkReplaced(ctx, current.ID, successor.ID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return r.revokeForReuse(ctx, repos, *current, now)
		}
		return rotationOutcome{}, err
	}
	if err := tokens.Create(ctx, successor); err != nil {
		return rotationOutcome{}, err
	}
	if err := repos.Sessions().Touch(ctx, session.ID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return rotationOutcome{}, ErrSessionAlreadyRevoked
		}
		return rotationOutcome{}, err
	}

	previous := *current
	previous.ReplaceWith(successor.ID, now)
	updated := *session
	updated.Touch(now)

	return rotationOutcome{result: &RotationResult{
		Token:    successor,
		Session:  updated,
		Previous: previous,
	}}, nil
}

func (r *RefreshRotator) evaluateSession(session domain.Session, at time.Time) error {
	if r.sessions == nil {
		if session.IsRevoked() {
			return ErrSessionAlreadyRevoked
		}
		return nil
	}
	return r.sessions.evaluate(session, at)
}

// successorLifetime keeps the family on the lifetime it was issued with, so remember-me
// families stay long-lived across rotations.
func (r *RefreshRotator) successorLifetime(predecessor domain.RefreshToken) time.Duration {
	lifetime := predecessor.ExpiresAt.Sub(predecessor.IssuedAt)
	if lifetime <= 0 {
		return r.settings.RefreshTTL
	}
	return lifetime
}

func (r *RefreshRotator) revokeForReuse(ctx context.Context, repos port.TxRepositories, token domain.RefreshToken, at time.Time) (rotationOutcome, error) {
	revoked, err := repos.RefreshTokens().RevokeFamily(ctx, token.FamilyID, domain.RevokeReasonReuseDetected, at)
	if err != nil {
		return rotationOutcome{}, err
	}

	sessionRevoked := false
	if r.settings.ReusePolicy.RevokesSession() {
		sessionRevoked, err = repos.Sessions().Revoke(ctx, token.SessionID, domain.RevokeReasonReuseDetected, at)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return rotationOutcome{}, err
		}
	}

	event := domain.RefreshReuseDetectedEvent{
		EventID:        uuid.NewString(),
		UserID:         token.UserID,
		SessionID:      token.SessionID,
		FamilyID:       token.FamilyID,
		TokenID:        token.ID,
		TokensRevoked:  revoked,
		SessionRevoked: sessionRevoked,
		DetectedAt:     at,
	}
	return rotationOutcome{err: ErrRefreshReuseDetected, reuse: &event}, nil
}

func (r *RefreshRotator) reportReuse(ctx context.Context, event domain.RefreshReuseDetectedEvent, device DeviceInfo) {
	r.metrics.RefreshReuse()
	event.IPAddress = optionalString(device.IP)

	logger.Enrich(ctx, r.logger).Warn("refresh token reuse detected",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("family_id", event.FamilyID),
		zap.Int("tokens_revoked", event.TokensRevoked),
		zap.Bool("session_revoked", event.SessionRevoked),
		zap.String("ip", logger.MaskIP(device.IP)),
	)

	if r.audit != nil {
		r.audit.Record(ctx, auditEntry(domain.AuditRefreshReuseDetected, event.UserID, device, map[string]any{
			"session_id":      event.SessionID,
			"family_id":       event.FamilyID,
			"token_id":        event.TokenID,
			"tokens_revoked":  event.TokensRevoked,
			"session_revoked": event.SessionRevoked,
		}))
	}

	if r.events != nil {
		if err := r.events.PublishRefreshReuseDetected(ctx, event); err != nil {
			logger.Enrich(ctx, r.logger).Warn("publish refresh reuse event failed",
				zap.String("family_id", event.FamilyID),
				zap.Error(err),
			)
		}
	}
	if event.SessionRevoked && r.sessions != nil {
		r.sessions.publishRevoked(ctx, domain.Session{ID: event.SessionID, UserID: event.UserID, IP: event.IPAddress},
			domain.RevokeReasonReuseDetected, event.TokensRevoked, event.DetectedAt)
	}
}

// RevokeFamily revokes every live token in a family.
func (r *RefreshRotator) RevokeFamily(ctx context.Context, familyID, reason string) (int, error) {
	if strings.TrimSpace(familyID) == "" {
		return 0, fmt.Errorf("%w: family id is required", ErrValidation)
	}

	count, err := repository.Call(ctx, r.retry, func(ctx context.Context) (int, error) {
		return r.tokens.RevokeFamily(ctx, familyID, chooseReason(reason, domain.RevokeReasonLogout), r.now())
	})
	if err != nil {
		return 0, storeFailure("revoke token family", err)
	}
	return count, nil
}

// RevokeAllForUser revokes the user's live tokens outside exceptSessionID.
func (r *RefreshRotator) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	count, err := repository.Call(ctx, r.retry, func(ctx context.Context) (int, error) {
		return r.tokens.RevokeAllForUser(ctx, userID, exceptSessionID, chooseReason(reason, domain.RevokeReasonLogoutOthers), r.now())
	})
	if err != nil {
		return 0, storeFailure("revoke user tokens", err)
	}
	return count, nil
}

// SweepExpired revokes up to limit live tokens whose lifetime elapsed.
func (r *RefreshRotator) SweepExpired(ctx context.Context, limit int) (int, error) {
	count, err := repository.Call(ctx, r.retry, func(ctx context.Context) (int, error) {
		return r.tokens.SweepExpired(ctx, r.now(), limit)
	})
	if err != nil {
		return 0, storeFailure("sweep refresh tokens", err)
	}
	return count, nil
}
