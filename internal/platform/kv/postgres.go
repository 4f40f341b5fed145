package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// writerLockID is the advisory lock key shared by every writer.
const writerLockID int64 = 0x6f647973

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

type postgresBackend struct {
	pool *pgxpool.Pool
	ns   string
}

// NewPostgresStore returns a store persisted in the kv_entries table. Writers
// take a transaction-scoped advisory lock so read-modify-write never interleaves.
func NewPostgresStore(pool *pgxpool.Pool, namespace string) Store {
	if namespace == "" {
		namespace = "odyssey"
	}
	return newEngine(&postgresBackend{pool: pool, ns: namespace})
}

// EnsureSchema creates the kv_entries table when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, writerLockID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("kv/postgres: ensure schema: %w", err)
		}
		return nil
	})
}

func (b *postgresBackend) begin(ctx context.Context, write bool) (session, error) {
	var (
		tx  pgx.Tx
		err error
	)
	if write {
		tx, err = db.BeginWriter(ctx, b.pool, writerLockID)
	} else {
		tx, err = db.BeginReader(ctx, b.pool)
	}
	if err != nil {
		return nil, err
	}
	return &postgresSession{ns: b.ns, tx: tx}, nil
}

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}

type postgresSession struct {
	ns string
	tx pgx.Tx
}

func (s *postgresSession) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.tx.QueryRow(ctx, `SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`, s.ns, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv/postgres: get %s: %w", key, err)
	}
	return value, nil
}

func (s *postgresSession) scan(ctx context.Context, prefix string) ([]Pair, error) {
	rows, err := s.tx.Query(ctx, `SELECT key, value FROM kv_entries
WHERE namespace = $1 AND starts_with(key, $2)
ORDER BY key COLLATE "C"`, s.ns, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv/postgres: scan %s: %w", prefix, err)
	}
	defer rows.Close()
	out := make([]Pair, 0)
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("kv/postgres: scan row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv/postgres: scan rows: %w", err)
	}
	return out, nil
}

func (s *postgresSession) commit(ctx context.Context, muts []mutation) error {
	batch := &pgx.Batch{}
	for _, m := range muts {
		if m.delete {
			batch.Queue(`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`, s.ns, m.key)
			continue
		}
		batch.Queue(`INSERT INTO kv_entries (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.ns, m.key, m.value)
	}
	if batch.Len() > 0 {
		if err := s.tx.SendBatch(ctx, batch).Close(); err != nil {
			_ = s.tx.Rollback(ctx)
			return fmt.Errorf("kv/postgres: write batch: %w", err)
		}
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("kv/postgres: commit: %w", err)
	}
	return nil
}

func (s *postgresSession) rollback(ctx context.Context) {
	_ = s.tx.Rollback(context.WithoutCancel(ctx))
}
