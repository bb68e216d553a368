// Package redislock serializes MCP record mutations across processes.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mcpforge:mcp:lock:"

// Locker implements usecase.MutationLocker with a redsync mutex per key.
type Locker struct {
	rs         *redsync.Redsync
	ttl        time.Duration
	tries      int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithTries sets how many acquisition attempts Lock makes.
func WithTries(n int) Option {
	return func(l *Locker) { l.tries = n }
}

// WithRetryDelay sets the delay between acquisition attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Locker) { l.retryDelay = d }
}

// New creates a Locker whose locks expire after ttl unless released.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger, opts ...Option) *Locker {
	l := &Locker{
		rs:         redsync.New(redsyncredis.NewPool(rdb)),
		ttl:        ttl,
		tries:      32,
		retryDelay: 100 * time.Millisecond,
		logger:     logger.With("component", "redis_locker"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires the lock for key.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}
	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			l.logger.Warn("Failed to release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
