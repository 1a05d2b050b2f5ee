package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// Transactor implements port.Transactor over a pgx pool.
type Transactor struct {
	db       txBeginner
	sessions *SessionRepository
	tokens   *RefreshTokenRepository
}

// NewTransactor constructs a transactor whose repositories are rebound to each transaction.
func NewTransactor(db txBeginner) *Transactor {
	return &Transactor{
		db:       db,
		sessions: NewSessionRepository(db),
		tokens:   NewRefreshTokenRepository(db),
	}
}

type txRepositories struct {
	sessions *SessionRepository
	tokens   *RefreshTokenRepository
}

func (r txRepositories) Sessions() port.SessionRepository           { return r.sessions }
func (r txRepositories) RefreshTokens() port.RefreshTokenRepository { return r.tokens }

// WithinTx runs fn in a transaction, committing only when fn succeeds.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) (err error) {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	repos := txRepositories{
		sessions: t.sessions.WithTx(tx),
		tokens:   t.tokens.WithTx(tx),
	}

	if err = fn(ctx, repos); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var (
	_ port.Transactor = (*Transactor)(nil)
	_ pgExecutor      = (pgx.Tx)(nil)
)
