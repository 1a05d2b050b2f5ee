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

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"session_id",
	"family_id",
	"token_hash",
	"issued_at",
	"expires_at",
	"revoked_at",
	"replaced_by_id",
	"revoke_reason",
}

// RefreshTokenRepository implements port.RefreshTokenRepository using PostgreSQL tables.
type RefreshTokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a new refresh token repository.
func NewRefreshTokenRepository(exec pgExecutor) *RefreshTokenRepository {
	repo := &RefreshTokenRepository{
		exec:    exec,
		builder: newBuilder(),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) *RefreshTokenRepository {
	if tx == nil {
		return r
	}
	return &RefreshTokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a refresh token record. Only the hash of the secret is stored.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("auth.refresh_tokens").
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.SessionID,
			token.FamilyID,
			token.TokenHash,
			token.IssuedAt.UTC(),
			token.ExpiresAt.UTC(),
			optionalTime(token.RevokedAt),
			optionalString(token.ReplacedByID),
			optionalString(token.RevokeReason),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByHashForUpdate retrieves a refresh token by hash and row-locks it for the enclosing transaction.
func (r *RefreshTokenRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From("auth.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var (
		token        domain.RefreshToken
		revokedAt    sql.NullTime
		replacedByID sql.NullString
		revokeReason sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&token.FamilyID,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&revokedAt,
		&replacedByID,
		&revokeReason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	token.IssuedAt = token.IssuedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.RevokedAt = nullableTimePtr(revokedAt)
	token.ReplacedByID = nullableStringPtr(replacedByID)
	token.RevokeReason = nullableStringPtr(revokeReason)

	return &token, nil
}

// MarkReplaced retires a live token and links it to its successor.
func (r *RefreshTokenRepository) MarkReplaced(ctx context.Context, tokenID string, successorID string, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("replaced_by_id", successorID).
		Set("revoke_reason", domain.RevokeReasonRotated).
		Where(squirrel.Eq{"id": tokenID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark refresh token replaced sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark refresh token replaced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	return nil
}

// Revoke revokes a single live token and reports whether it changed.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID string, reason string, at time.Time) (bool, error) {
	count, err := r.revokeWhere(ctx, squirrel.Eq{"id": tokenID}, reason, at)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return count > 0, nil
}

// RevokeFamily revokes every live token sharing the family id.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error) {
	count, err := r.revokeWhere(ctx, squirrel.Eq{"family_id": familyID}, reason, at)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token family: %w", err)
	}
	return count, nil
}

// RevokeBySession revokes every live token bound to the session.
func (r *RefreshTokenRepository) RevokeBySession(ctx context.Context, sessionID string, reason string, at time.Time) (int, error) {
	count, err := r.revokeWhere(ctx, squirrel.Eq{"session_id": sessionID}, reason, at)
	if err != nil {
		return 0, fmt.Errorf("revoke session refresh tokens: %w", err)
	}
	return count, nil
}

// RevokeAllForUser revokes every live token of the user outside exceptSessionID.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, reason string, at time.Time) (int, error) {
	predicate := squirrel.And{squirrel.Eq{"user_id": userID}}
	if exceptSessionID != "" {
		predicate = append(predicate, squirrel.NotEq{"session_id": exceptSessionID})
	}

	count, err := r.revokeWhere(ctx, predicate, reason, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return count, nil
}

// SweepExpired revokes up to limit tokens whose expiry passed while still live.
func (r *RefreshTokenRepository) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	const stmt = `
        UPDATE auth.refresh_tokens
           SET revoked_at = $1,
               revoke_reason = $2
         WHERE id IN (
                SELECT id
                  FROM auth.refresh_tokens
                 WHERE revoked_at IS NULL
                   AND expires_at <= $1
                 LIMIT $3
                   FOR UPDATE SKIP LOCKED
         )
    `

	tag, err := r.exec.Exec(ctx, stmt, now.UTC(), domain.RevokeReasonExpired, limit)
	if err != nil {
		return 0, fmt.Errorf("sweep expired refresh tokens: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// revokeWhere only touches live tokens so replaced_by_id of retired tokens is never rewritten.
func (r *RefreshTokenRepository) revokeWhere(ctx context.Context, predicate squirrel.Sqlizer, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", normalizeReason(reason, domain.RevokeReasonSessionRevoked)).
		Where(predicate).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	return int(tag.RowsAffected()), nil
}

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
