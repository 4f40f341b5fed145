package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	// Namespace prefixes every stored key.
	Namespace string
	// LockTTL bounds how long one write transaction may hold the writer lock.
	LockTTL time.Duration
	// LockWait bounds how long a writer waits for the lock.
	LockWait time.Duration
}

type redisBackend struct {
	client   redis.UniversalClient
	locker   *redislock.Client
	ns       string
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewRedisStore returns a store persisted in Redis. Writers are serialized by a
// single distributed lock and commit their buffered writes with MULTI/EXEC.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) Store {
	if opts.Namespace == "" {
		opts.Namespace = "odyssey"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	return newEngine(&redisBackend{
		client:   client,
		locker:   redislock.New(client),
		ns:       opts.Namespace,
		lockTTL:  opts.LockTTL,
		lockWait: opts.LockWait,
	})
}

func (b *redisBackend) dataKey(key string) string {
	return b.ns + ":data:" + key
}

func (b *redisBackend) lockKey() string {
	return b.ns + ":lock:writer"
}

func (b *redisBackend) begin(ctx context.Context, write bool) (session, error) {
	sess := &redisSession{backend: b}
	if !write {
		return sess, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.lockWait)
	defer cancel()
	lock, err := b.locker.Obtain(waitCtx, b.lockKey(), b.lockTTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("kv/redis: writer lock busy: %w", err)
		}
		return nil, fmt.Errorf("kv/redis: obtain lock: %w", err)
	}
	sess.lock = lock
	return sess, nil
}

func (b *redisBackend) close() error {
	return nil
}

type redisSession struct {
	backend *redisBackend
	lock    *redislock.Lock
}

func (s *redisSession) get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.backend.client.Get(ctx, s.backend.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv/redis: get %s: %w", key, err)
	}
	return value, nil
}

func (s *redisSession) scan(ctx context.Context, prefix string) ([]Pair, error) {
	base := s.backend.dataKey("")
	match := globEscape(base+prefix) + "*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.backend.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("kv/redis: scan %s: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return []Pair{}, nil
	}
	sort.Strings(keys)
	keys = dedupSorted(keys)

	out := make([]Pair, 0, len(keys))
	for start := 0; start < len(keys); start += 256 {
		end := start + 256
		if end > len(keys) {
			end = len(keys)
		}
		values, err := s.backend.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("kv/redis: mget: %w", err)
		}
		for i, raw := range values {
			str, ok := raw.(string)
			if !ok {
				continue
			}
			out = append(out, Pair{Key: strings.TrimPrefix(keys[start+i], base), Value: []byte(str)})
		}
	}
	return out, nil
}

func (s *redisSession) commit(ctx context.Context, muts []mutation) error {
	defer s.rollback(ctx)
	if len(muts) == 0 {
		return nil
	}
	if s.lock != nil {
		ttl, err := s.lock.TTL(ctx)
		if err != nil {
			return fmt.Errorf("kv/redis: lock ttl: %w", err)
		}
		if ttl <= 0 {
			return errors.New("kv/redis: writer lock expired before commit")
		}
	}
	_, err := s.backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range muts {
			if m.delete {
				pipe.Del(ctx, s.backend.dataKey(m.key))
				continue
			}
			pipe.Set(ctx, s.backend.dataKey(m.key), m.value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv/redis: commit: %w", err)
	}
	return nil
}

func (s *redisSession) rollback(ctx context.Context) {
	if s.lock == nil {
		return
	}
	_ = s.lock.Release(context.WithoutCancel(ctx))
	s.lock = nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dedupSorted(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if len(out) > 0 && out[len(out)-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
