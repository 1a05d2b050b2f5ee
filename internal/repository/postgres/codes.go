package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// SubjectCodec maps a code subject onto its table columns.
type SubjectCodec[S domain.CodeSubject] struct {
	Columns []string
	Encode  func(subject S) []any
	Decode  func(values []string) S
}

// EmailSubjectCodec stores email-addressed codes under a single email column.
var EmailSubjectCodec = SubjectCodec[domain.EmailSubject]{
	Columns: []string{"email"},
	Encode: func(subject domain.EmailSubject) []any {
		return []any{subject.Key()}
	},
	Decode: func(values []string) domain.EmailSubject {
		return domain.EmailSubject(values[0])
	},
}

// TwoFactorSubjectCodec stores second-factor codes keyed by user and method.
var TwoFactorSubjectCodec = SubjectCodec[domain.TwoFactorSubject]{
	Columns: []string{"user_id", "method_id"},
	Encode: func(subject domain.TwoFactorSubject) []any {
		return []any{subject.UserID, subject.MethodID}
	},
	Decode: func(values []string) domain.TwoFactorSubject {
		return domain.TwoFactorSubject{UserID: values[0], MethodID: values[1]}
	},
}

// CodeRepository implements port.OneTimeCodeRepository for one subject type and table.
type CodeRepository[S domain.CodeSubject] struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	table   string
	codec   SubjectCodec[S]
}

// NewCodeRepository constructs a code repository over table using codec for the subject columns.
func NewCodeRepository[S domain.CodeSubject](exec pgExecutor, table string, codec SubjectCodec[S]) *CodeRepository[S] {
	return &CodeRepository[S]{
		exec:    exec,
		builder: newBuilder(),
		table:   table,
		codec:   codec,
	}
}

// NewOtpCodeRepository stores signup, password-reset and email-change codes.
func NewOtpCodeRepository(exec pgExecutor) *CodeRepository[domain.EmailSubject] {
	return NewCodeRepository(exec, "auth.otp_codes", EmailSubjectCodec)
}

// NewTwoFactorCodeRepository stores server-issued second-factor codes.
func NewTwoFactorCodeRepository(exec pgExecutor) *CodeRepository[domain.TwoFactorSubject] {
	return NewCodeRepository(exec, "auth.two_factor_codes", TwoFactorSubjectCodec)
}

func (r *CodeRepository[S]) columns() []string {
	columns := []string{"id"}
	columns = append(columns, r.codec.Columns...)
	return append(columns, "purpose", "code_hash", "created_at", "expires_at", "consumed_at", "attempts")
}

func (r *CodeRepository[S]) subjectPredicate(subject S) squirrel.Eq {
	values := r.codec.Encode(subject)
	predicate := squirrel.Eq{}
	for i, column := range r.codec.Columns {
		predicate[column] = values[i]
	}
	return predicate
}

// Create inserts a hashed code.
func (r *CodeRepository[S]) Create(ctx context.Context, code domain.OneTimeCode[S]) error {
	values := []any{code.ID}
	values = append(values, r.codec.Encode(code.Subject)...)
	values = append(values,
		string(code.Purpose),
		code.CodeHash,
		code.CreatedAt.UTC(),
		code.ExpiresAt.UTC(),
		optionalTime(code.ConsumedAt),
		code.Attempts,
	)

	stmt, args, err := r.builder.Insert(r.table).
		Columns(r.columns()...).
		Values(values...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert code sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// LatestUnconsumed returns the newest unconsumed code regardless of expiry.
func (r *CodeRepository[S]) LatestUnconsumed(ctx context.Context, subject S, purpose domain.CodePurpose) (*domain.OneTimeCode[S], error) {
	stmt, args, err := r.builder.Select(r.columns()...).
		From(r.table).
		Where(r.subjectPredicate(subject)).
		Where(squirrel.Eq{"purpose": string(purpose)}).
		Where("consumed_at IS NULL").
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select code sql: %w", err)
	}

	var (
		code       domain.OneTimeCode[S]
		purposeRaw string
		consumedAt sql.NullTime
	)
	subjectValues := make([]string, len(r.codec.Columns))

	dest := []any{&code.ID}
	for i := range subjectValues {
		dest = append(dest, &subjectValues[i])
	}
	dest = append(dest, &purposeRaw, &code.CodeHash, &code.CreatedAt, &code.ExpiresAt, &consumedAt, &code.Attempts)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan code: %w", err)
	}

	code.Subject = r.codec.Decode(subjectValues)
	code.Purpose = domain.CodePurpose(purposeRaw)
	code.CreatedAt = code.CreatedAt.UTC()
	code.ExpiresAt = code.ExpiresAt.UTC()
	code.ConsumedAt = nullableTimePtr(consumedAt)

	return &code, nil
}

// IncrementAttempts bumps the counter only while it is below maxAttempts.
func (r *CodeRepository[S]) IncrementAttempts(ctx context.Context, codeID string, maxAttempts int) (int, error) {
	stmt, args, err := r.builder.Update(r.table).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{"id": codeID}).
		Where(squirrel.Lt{"attempts": maxAttempts}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	return attempts, nil
}

// Consume marks an unconsumed code as used.
func (r *CodeRepository[S]) Consume(ctx context.Context, codeID string, at time.Time) error {
	stmt, args, err := r.builder.Update(r.table).
		Set("consumed_at", at.UTC()).
		Where(squirrel.Eq{"id": codeID}).
		Where("consumed_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume code sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	return nil
}

// PurgeExpired deletes up to limit codes that expired before the cutoff.
func (r *CodeRepository[S]) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	stmt := fmt.Sprintf(`
        DELETE FROM %[1]s
         WHERE id IN (
                SELECT id
                  FROM %[1]s
                 WHERE expires_at < $1
                 LIMIT $2
         )
    `, r.table)

	tag, err := r.exec.Exec(ctx, stmt, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("purge expired codes: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var (
	_ port.OneTimeCodeRepository[domain.EmailSubject]     = (*CodeRepository[domain.EmailSubject])(nil)
	_ port.OneTimeCodeRepository[domain.TwoFactorSubject] = (*CodeRepository[domain.TwoFactorSubject])(nil)
)
