// Package redis implements queue.Backend on Redis.
//
// Pending ids live in one LIST per queue, so dequeue is a single LPOP (or
// BLPOP when waiting) and every id is handed to exactly one worker no matter
// how many processes share the server. Job records are JSON strings written
// with SET NX and updated under WATCH. Emptying a queue runs a Lua script so
// that the ids and their records disappear in one step.
//
// The Lua script touches keys it does not declare, so the backend needs a
// single Redis node (or Sentinel) rather than Redis Cluster.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg) // pkg/redis
//	b := redisbackend.New(client)
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
	jobqredis "github.com/dmitrymomot/jobq/pkg/redis"
)

var _ queue.Backend = (*Backend)(nil)

// Option configures the Backend.
type Option func(*Backend)

// WithKeyPrefix sets the prefix of every key written by the backend.
// Default: "jobq:".
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBlockSlice bounds a single BLPOP call. Longer waits are split into
// slices so that a cancelled context is noticed between them.
// Default: 2 seconds.
func WithBlockSlice(d time.Duration) Option {
	return func(b *Backend) {
		if d >= time.Second {
			b.blockSlice = d
		}
	}
}

// WithMaxUpdateRetries sets how many times an optimistic update is retried
// when the record changes concurrently. Default: 16.
func WithMaxUpdateRetries(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxRetries = n
		}
	}
}

// Backend is a queue.Backend on Redis.
type Backend struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	prefix     string
	blockSlice time.Duration
	maxRetries int
}

// New creates a backend on client. The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		logger:     logger.NewNope(),
		prefix:     DefaultKeyPrefix,
		blockSlice: 2 * time.Second,
		maxRetries: 16,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Backend) Client() redis.UniversalClient { return b.client }

// Ping verifies the Redis connection is alive.
func (b *Backend) Ping(ctx context.Context) error {
	return jobqredis.Healthcheck(b.client)(ctx)
}

// Close is a no-op; the caller owns the client.
func (b *Backend) Close() error { return nil }
