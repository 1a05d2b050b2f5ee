package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

func TestAuditRepository_WriteAudit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuditRepository(mock)
	at := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	userID := "user-1"
	ip := "203.0.113.7"

	entry := domain.AuditLog{
		ID:       "01JA0000000000000000000000",
		UserID:   &userID,
		Action:   domain.AuditLoginSuccess,
		IP:       &ip,
		Metadata: map[string]any{"session_id": "session-1"},
		At:       at,
	}

	mock.ExpectExec(`INSERT INTO auth\.audit_logs`).
		WithArgs(entry.ID, userID, "LoginSuccess", nil, ip, nil, []byte(`{"session_id":"session-1"}`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.WriteAudit(context.Background(), entry); err != nil {
		t.Fatalf("WriteAudit returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
