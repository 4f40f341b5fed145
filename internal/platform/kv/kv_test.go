package kv

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Put("item/b", []byte("2")))
		require.NoError(t, tx.Put("item/a", []byte("1")))
		require.NoError(t, tx.Put("other/x", []byte("x")))
		got, err := tx.Get(ctx, "item/a")
		require.NoError(t, err)
		require.Equal(t, "1", string(got))
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(ctx context.Context, tx Tx) error {
		pairs, err := tx.Scan(ctx, "item/")
		require.NoError(t, err)
		require.Len(t, pairs, 2)
		require.Equal(t, "item/a", pairs[0].Key)
		require.Equal(t, "item/b", pairs[1].Key)
		require.ErrorIs(t, tx.Put("item/c", nil), ErrReadOnly)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Put("item/c", []byte("3")))
		require.NoError(t, tx.Delete("item/a"))
		pairs, err := tx.Scan(ctx, "item/")
		require.NoError(t, err)
		require.Len(t, pairs, 2)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Get(ctx, "item/c")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.Get(ctx, "item/a")
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(ctx context.Context, tx Tx) error {
		return store.Update(ctx, func(ctx context.Context, inner Tx) error {
			require.NoError(t, inner.Put("nested/k", []byte("v")))
			return nil
		})
	})
	require.NoError(t, err)

	err = store.View(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.Get(ctx, "nested/k")
		require.NoError(t, err)
		require.Equal(t, "v", string(got))
		return nil
	})
	require.NoError(t, err)
}

func exerciseSequence(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Update(ctx, func(ctx context.Context, tx Tx) error {
				_, err := NextSequence(ctx, tx, "seq/test")
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		next, err := NextSequence(ctx, tx, "seq/test")
		require.NoError(t, err)
		require.EqualValues(t, 21, next)
		return nil
	})
	require.NoError(t, err)
}

func TestOnCompleteFollowsOutermostTransaction(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var outcomes []bool
	record := func(committed bool) { outcomes = append(outcomes, committed) }

	store.OnComplete(ctx, record)
	require.Equal(t, []bool{true}, outcomes)

	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		return store.Update(ctx, func(ctx context.Context, tx Tx) error {
			store.OnComplete(ctx, record)
			require.Len(t, outcomes, 1)
			return tx.Put("hooks/a", []byte("1"))
		})
	})
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, outcomes)

	boom := errors.New("boom")
	err = store.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
			store.OnComplete(ctx, record)
			return tx.Put("hooks/b", []byte("1"))
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []bool{true, true, false}, outcomes)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	exerciseSequence(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, RedisOptions{Namespace: "test"})
	exerciseStore(t, store)
	exerciseSequence(t, store)

	require.True(t, mr.Exists("test:data:item/a"))
	require.False(t, mr.Exists("test:lock:writer"))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ODYSSEY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ODYSSEY_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, db.Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, `DELETE FROM kv_entries WHERE namespace = 'kv_test'`)
	require.NoError(t, err)

	store := NewPostgresStore(pool, "kv_test")
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
	exerciseSequence(t, store)
}

func TestJSONHelpers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	type row struct {
		Name string `json:"name"`
	}

	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, PutJSON(tx, Key("rows", "2"), row{Name: "two"}))
		require.NoError(t, PutJSON(tx, Key("rows", "1"), row{Name: "one"}))
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(ctx context.Context, tx Tx) error {
		rows, err := ScanJSON[row](ctx, tx, "rows/")
		require.NoError(t, err)
		require.Equal(t, []row{{Name: "one"}, {Name: "two"}}, rows)
		var single row
		require.NoError(t, GetJSON(ctx, tx, "rows/2", &single))
		require.Equal(t, "two", single.Name)
		return nil
	})
	require.NoError(t, err)
}
