package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// AuditRepository appends audit entries. It never updates or deletes them.
type AuditRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(exec pgExecutor) *AuditRepository {
	return &AuditRepository{exec: exec, builder: newBuilder()}
}

// WriteAudit inserts a single entry.
func (r *AuditRepository) WriteAudit(ctx context.Context, entry domain.AuditLog) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("prepare audit metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("auth.audit_logs").
		Columns("id", "user_id", "action", "auth_method", "ip", "user_agent", "metadata", "created_at").
		Values(
			entry.ID,
			optionalString(entry.UserID),
			string(entry.Action),
			optionalString(entry.AuthMethod),
			optionalString(entry.IP),
			optionalString(entry.UserAgent),
			metadata,
			entry.At.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

var _ port.AuditWriter = (*AuditRepository)(nil)
