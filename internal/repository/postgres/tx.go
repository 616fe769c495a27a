package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utafrali/identity/internal/repository"
)

// TxManager runs units of work inside a database transaction. Every mutation
// of the user aggregate goes through Do so the user row and its session rows
// always change together.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a transaction manager over the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// Do begins a transaction, invokes fn with a repository bound to it, and
// commits if fn returns nil. Any error rolls the transaction back and is
// returned unchanged so callers can map it.
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context, repo repository.UserRepository) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, NewUserRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
