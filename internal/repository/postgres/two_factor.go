package postgres

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// TwoFactorMethodRepository reads enrolled second factors.
type TwoFactorMethodRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTwoFactorMethodRepository constructs the repository.
func NewTwoFactorMethodRepository(exec pgExecutor) *TwoFactorMethodRepository {
	return &TwoFactorMethodRepository{exec: exec, builder: newBuilder()}
}

// ListActiveByUser returns active methods, oldest enrolment first.
func (r *TwoFactorMethodRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.TwoFactorMethod, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "type", "secret", "phone_number", "is_active", "created_at").
		From("auth.two_factor_methods").
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list two factor methods sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query two factor methods: %w", err)
	}
	defer rows.Close()

	methods := make([]domain.TwoFactorMethod, 0)
	for rows.Next() {
		var (
			method     domain.TwoFactorMethod
			methodType string
			secret     sql.NullString
			phone      sql.NullString
		)
		if err := rows.Scan(&method.ID, &method.UserID, &methodType, &secret, &phone, &method.IsActive, &method.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan two factor method: %w", err)
		}
		method.Type = domain.TwoFactorType(methodType)
		method.Secret = nullableStringPtr(secret)
		method.PhoneNumber = nullableStringPtr(phone)
		methods = append(methods, method)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate two factor methods: %w", err)
	}

	return methods, nil
}

var _ port.TwoFactorMethodRepository = (*TwoFactorMethodRepository)(nil)
