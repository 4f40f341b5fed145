// Package cache opens the Redis connection shared by the kv store and the
// job queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Config describes a Redis endpoint.
type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

func (c Config) options() *redis.Options {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB, DialTimeout: timeout}
}

// New connects a client and pings it.
func New(ctx context.Context, c Config) (*redis.Client, error) {
	opts := c.options()
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", c.Addr, err)
	}
	return client, nil
}

// AsynqOpt returns the asynq connection for the same endpoint.
func (c Config) AsynqOpt() asynq.RedisClientOpt {
	opts := c.options()
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB, DialTimeout: opts.DialTimeout}
}
