package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

var sessionColumns = []string{
	"id",
	"user_id",
	"auth_method",
	"ip",
	"user_agent",
	"created_at",
	"last_seen_at",
	"revoked_at",
	"revoke_reason",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sqlStmt, args, err := r.builder.Insert("auth.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			string(session.AuthMethod),
			optionalString(session.IP),
			optionalString(session.UserAgent),
			session.CreatedAt.UTC(),
			session.LastSeenAt.UTC(),
			optionalTime(session.RevokedAt),
			optionalString(session.RevokeReason),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID fetches a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// Touch refreshes last_seen_at on a live session.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	const stmt = `
        UPDATE auth.sessions
           SET last_seen_at = GREATEST(last_seen_at, $2)
         WHERE id = $1
           AND revoked_at IS NULL
    `

	tag, err := r.exec.Exec(ctx, stmt, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	return nil
}

// Revoke marks a live session as revoked. Revoking an already revoked session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, reason string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", normalizeReason(reason, domain.RevokeReasonLogout)).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RevokeAllForUser revokes every live session of the user except exceptSessionID and returns the revoked ids.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, reason string, at time.Time) ([]string, error) {
	query := r.builder.Update("auth.sessions").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", normalizeReason(reason, domain.RevokeReasonLogoutOthers)).
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL")
	if exceptSessionID != "" {
		query = query.Where(squirrel.NotEq{"id": exceptSessionID})
	}

	stmt, args, err := query.Suffix("RETURNING id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build revoke user sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("revoke user sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked sessions: %w", err)
	}

	return ids, nil
}

// ListActiveByUser returns unrevoked sessions ordered by last activity.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		OrderBy("last_seen_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	return r.querySessions(ctx, stmt, args)
}

// ListStale returns live sessions that crossed the idle or absolute cutoff.
func (r *SessionRepository) ListStale(ctx context.Context, idleBefore, createdBefore time.Time, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where("revoked_at IS NULL").
		Where(squirrel.Or{
			squirrel.Lt{"last_seen_at": idleBefore.UTC()},
			squirrel.Lt{"created_at": createdBefore.UTC()},
		}).
		OrderBy("last_seen_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list stale sessions sql: %w", err)
	}

	return r.querySessions(ctx, stmt, args)
}

func (r *SessionRepository) querySessions(ctx context.Context, stmt string, args []any) ([]domain.Session, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session      domain.Session
		authMethod   string
		ip           sql.NullString
		userAgent    sql.NullString
		revokedAt    sql.NullTime
		revokeReason sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&authMethod,
		&ip,
		&userAgent,
		&session.CreatedAt,
		&session.LastSeenAt,
		&revokedAt,
		&revokeReason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.AuthMethod = domain.AuthMethod(authMethod)
	session.IP = nullableStringPtr(ip)
	session.UserAgent = nullableStringPtr(userAgent)
	session.CreatedAt = session.CreatedAt.UTC()
	session.LastSeenAt = session.LastSeenAt.UTC()
	session.RevokedAt = nullableTimePtr(revokedAt)
	session.RevokeReason = nullableStringPtr(revokeReason)

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
