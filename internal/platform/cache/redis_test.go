package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
)

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := cache.New(ctx, cache.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	require.Equal(t, "v", mr.GetOr("k", ""))

	mr.Close()
	_, err = cache.New(ctx, cache.Config{Addr: mr.Addr(), DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestAsynqOpt(t *testing.T) {
	opt := cache.Config{Addr: "redis:6379", DB: 2}.AsynqOpt()
	require.Equal(t, "redis:6379", opt.Addr)
	require.Equal(t, 2, opt.DB)
	require.Equal(t, 5*time.Second, opt.DialTimeout)
}
