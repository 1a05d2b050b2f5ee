package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// SessionPolicy holds the lifetime limits applied to every session at evaluation time.
// Zero disables the corresponding limit.
type SessionPolicy struct {
	IdleTimeout      time.Duration
	AbsoluteLifetime time.Duration
}

// SessionManager tracks one session per login and enforces idle and absolute lifetimes.
type SessionManager struct {
	sessions port.SessionRepository
	tx       port.Transactor
	events   port.EventPublisher
	audit    *AuditRecorder
	retry    repository.RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu     sync.RWMutex
	policy SessionPolicy
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(sessions port.SessionRepository, tx port.Transactor, policy SessionPolicy, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &SessionManager{
		sessions: sessions,
		tx:       tx,
		policy:   policy,
		logger:   logger,
		newID:    uuid.NewString,
	}
	manager.now = func() time.Time { return time.Now().UTC() }
	return manager
}

// WithEvents publishes session.revoked events through events.
func (m *SessionManager) WithEvents(events port.EventPublisher) *SessionManager {
	m.events = events
	return m
}

// WithAudit records SessionExpired entries through audit.
func (m *SessionManager) WithAudit(audit *AuditRecorder) *SessionManager {
	m.audit = audit
	return m
}

// WithRetryPolicy bounds store calls.
func (m *SessionManager) WithRetryPolicy(policy repository.RetryPolicy) *SessionManager {
	m.retry = policy
	return m
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// Policy returns the limits currently in force.
func (m *SessionManager) Policy() SessionPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// UpdatePolicy swaps the limits; existing sessions are judged by the new values on their next evaluation.
func (m *SessionManager) UpdatePolicy(policy SessionPolicy) {
	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()
}

// Create opens a new session. Sessions are never reused across logins.
func (m *SessionManager) Create(ctx context.Context, userID, ip, userAgent string, method domain.AuthMethod) (*domain.Session, error) {
	session, err := m.Build(userID, ip, userAgent, method)
	if err != nil {
		return nil, err
	}

	if err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.sessions.Create(ctx, session)
	}); err != nil {
		return nil, storeFailure("create session", err)
	}

	return &session, nil
}

// Build prepares a fresh session record without storing it.
func (m *SessionManager) Build(userID, ip, userAgent string, method domain.AuthMethod) (domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Session{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	now := m.now()
	return domain.Session{
		ID:         m.newID(),
		UserID:     userID,
		AuthMethod: method,
		IP:         optionalString(ip),
		UserAgent:  optionalString(userAgent),
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// Get loads a session by id.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}

	session, err := repository.Call(ctx, m.retry, func(ctx context.Context) (*domain.Session, error) {
		return m.sessions.GetByID(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storeFailure("get session", err)
	}
	return session, nil
}

// evaluate maps the session state at the given instant onto the session errors.
func (m *SessionManager) evaluate(session domain.Session, at time.Time) error {
	policy := m.Policy()
	switch session.StateAt(at, policy.IdleTimeout, policy.AbsoluteLifetime) {
	case domain.SessionStateRevoked:
		return ErrSessionAlreadyRevoked
	case domain.SessionStateIdleExpired:
		return ErrSessionIdleExpired
	case domain.SessionStateAbsoluteExpired:
		return ErrSessionAbsoluteExpired
	default:
		return nil
	}
}

func expiryReason(err error) string {
	if errors.Is(err, ErrSessionAbsoluteExpired) {
		return domain.RevokeReasonAbsoluteTimeout
	}
	return domain.RevokeReasonIdleTimeout
}

// Touch records activity on a live session. A session past its idle or absolute limit is
// revoked and the matching expiry error returned instead.
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := m.now()
	if err := m.evaluate(*session, now); err != nil {
		if errors.Is(err, ErrSessionAlreadyRevoked) {
			return err
		}
		if _, _, revokeErr := m.revokeWithTokens(ctx, *session, expiryReason(err), now); revokeErr != nil {
			return revokeErr
		}
		m.recordExpiry(ctx, *session, err)
		return err
	}

	err = m.retry.Do(ctx, func(ctx context.Context) error {
		return m.sessions.Touch(ctx, sessionID, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return ErrSessionAlreadyRevoked
		case errors.Is(err, repository.ErrNotFound):
			return ErrSessionNotFound
		}
		return storeFailure("touch session", err)
	}
	return nil
}

// Revoke terminates the session and its live refresh tokens. Revoking an already
// revoked session succeeds without changes.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, reason string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsRevoked() {
		return nil
	}

	_, _, err = m.revokeWithTokens(ctx, *session, chooseReason(reason, domain.RevokeReasonLogout), m.now())
	return err
}

func (m *SessionManager) revokeWithTokens(ctx context.Context, session domain.Session, reason string, at time.Time) (bool, int, error) {
	var (
		changed bool
		tokens  int
	)
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			var err error
			changed, err = repos.Sessions().Revoke(ctx, session.ID, reason, at)
			if err != nil {
				return err
			}
			tokens, err = repos.RefreshTokens().RevokeBySession(ctx, session.ID, reason, at)
			return err
		})
	})
	if err != nil {
		return false, 0, storeFailure("revoke session", err)
	}

	if changed {
		m.publishRevoked(ctx, session, reason, tokens, at)
	}
	return changed, tokens, nil
}

// RevokeAllForUser terminates every live session of userID except exceptSessionID,
// together with their refresh tokens.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason string) (int, int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	reason = chooseReason(reason, domain.RevokeReasonLogoutOthers)
	now := m.now()

	var (
		revoked []string
		tokens  int
	)
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			var err error
			revoked, err = repos.Sessions().RevokeAllForUser(ctx, userID, exceptSessionID, reason, now)
			if err != nil {
				return err
			}
			tokens, err = repos.RefreshTokens().RevokeAllForUser(ctx, userID, exceptSessionID, reason, now)
			return err
		})
	})
	if err != nil {
		return 0, 0, storeFailure("revoke user sessions", err)
	}

	for _, id := range revoked {
		m.publishRevoked(ctx, domain.Session{ID: id, UserID: userID}, reason, 0, now)
	}

	return len(revoked), tokens, nil
}

// ListActive returns the user's sessions that are neither revoked nor timed out.
func (m *SessionManager) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	sessions, err := repository.Call(ctx, m.retry, func(ctx context.Context) ([]domain.Session, error) {
		return m.sessions.ListActiveByUser(ctx, userID)
	})
	if err != nil {
		return nil, storeFailure("list sessions", err)
	}

	now := m.now()
	active := make([]domain.Session, 0, len(sessions))
	for _, session := range sessions {
		if m.evaluate(session, now) != nil {
			continue
		}
		active = append(active, session)
	}
	return active, nil
}

// SweepExpired revokes up to limit sessions that outlived the idle or absolute limit.
func (m *SessionManager) SweepExpired(ctx context.Context, limit int) (int, error) {
	policy := m.Policy()
	if policy.IdleTimeout <= 0 && policy.AbsoluteLifetime <= 0 {
		return 0, nil
	}

	now := m.now()
	// a disabled limit maps to the zero time so it matches nothing
	var idleBefore, createdBefore time.Time
	if policy.IdleTimeout > 0 {
		idleBefore = now.Add(-policy.IdleTimeout)
	}
	if policy.AbsoluteLifetime > 0 {
		createdBefore = now.Add(-policy.AbsoluteLifetime)
	}

	stale, err := repository.Call(ctx, m.retry, func(ctx context.Context) ([]domain.Session, error) {
		return m.sessions.ListStale(ctx, idleBefore, createdBefore, limit)
	})
	if err != nil {
		return 0, storeFailure("list stale sessions", err)
	}

	revoked := 0
	for _, session := range stale {
		reasonErr := m.evaluate(session, now)
		if reasonErr == nil || errors.Is(reasonErr, ErrSessionAlreadyRevoked) {
			continue
		}
		changed, _, err := m.revokeWithTokens(ctx, session, expiryReason(reasonErr), now)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
			m.recordExpiry(ctx, session, reasonErr)
		}
	}
	return revoked, nil
}

func (m *SessionManager) recordExpiry(ctx context.Context, session domain.Session, cause error) {
	if m.audit == nil {
		return
	}
	entry := auditEntry(domain.AuditSessionExpired, session.UserID, DeviceInfo{}, map[string]any{
		"session_id": session.ID,
		"reason":     expiryReason(cause),
	})
	m.audit.Record(ctx, entry)
}

func (m *SessionManager) publishRevoked(ctx context.Context, session domain.Session, reason string, tokens int, at time.Time) {
	if m.events == nil {
		return
	}
	event := domain.SessionRevokedEvent{
		EventID:       uuid.NewString(),
		SessionID:     session.ID,
		UserID:        session.UserID,
		RevokedAt:     at,
		Reason:        reason,
		TokensRevoked: tokens,
		IPAddress:     session.IP,
	}
	if err := m.events.PublishSessionRevoked(ctx, event); err != nil {
		logger.Enrich(ctx, m.logger).Warn("publish session revoked event failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
}

func chooseReason(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
