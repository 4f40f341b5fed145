package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BeginReader opens a read-only snapshot.
func BeginReader(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("platform/db: begin reader: %w", err)
	}
	return tx, nil
}

// BeginWriter opens a read-write transaction holding the transaction-scoped
// advisory lock lockID. Writers sharing lockID run one at a time.
func BeginWriter(ctx context.Context, pool *pgxpool.Pool, lockID int64) (pgx.Tx, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, fmt.Errorf("platform/db: begin writer: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("platform/db: advisory lock %d: %w", lockID, err)
	}
	return tx, nil
}

// WithTx runs fn in a writer transaction and commits when it returns nil.
func WithTx(ctx context.Context, pool *pgxpool.Pool, lockID int64, fn func(pgx.Tx) error) error {
	tx, err := BeginWriter(ctx, pool, lockID)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit: %w", err)
	}
	return nil
}
