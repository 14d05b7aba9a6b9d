// Package postgres implements queue.Backend on PostgreSQL.
//
// Pending ids are rows of jobq_pending ordered by a serial column. Dequeue
// deletes the first row with FOR UPDATE SKIP LOCKED, so concurrent workers in
// any number of processes never receive the same id. Push sends a NOTIFY on
// the jobq_pending channel and blocked workers wait with LISTEN instead of
// polling.
//
// Apply the schema once with Migrate before use.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobq/pkg/db"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

var _ queue.Backend = (*Backend)(nil)

// NotifyChannel is the LISTEN/NOTIFY channel signalled on every push.
const NotifyChannel = "jobq_pending"

// MigrationsTable records applied schema versions.
const MigrationsTable = "jobq_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Option configures the Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPollInterval bounds a single wait for a notification. Waits longer than
// this re-check the tables, covering notifications lost on reconnect.
// Default: 5 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// Backend is a queue.Backend on PostgreSQL.
type Backend struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	pollInterval time.Duration
}

// New creates a backend on pool. The caller owns the pool lifecycle.
func New(pool *pgxpool.Pool, opts ...Option) *Backend {
	b := &Backend{
		pool:         pool,
		logger:       logger.NewNope(),
		pollInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Migrate creates or upgrades the jobq tables.
func (b *Backend) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, b.pool, sub, MigrationsTable, b.logger)
}

// Ping checks the pool.
func (b *Backend) Ping(ctx context.Context) error {
	return db.Healthcheck(b.pool)(ctx)
}

// Close is a no-op; the caller owns the pool.
func (b *Backend) Close() error { return nil }

func (b *Backend) PutJob(ctx context.Context, j *job.Job) error {
	data, err := job.Encode(j)
	if err != nil {
		return fmt.Errorf("jobq/postgres: encode job: %w", err)
	}

	tag, err := b.pool.Exec(ctx,
		`INSERT INTO jobq_jobs (id, data) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		j.ID, data,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: put job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrDuplicateID
	}
	return nil
}

func (b *Backend) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var data []byte
	err := b.pool.QueryRow(ctx, `SELECT data FROM jobq_jobs WHERE id = $1`, jobID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("jobq/postgres: get job: %w", err)
	}
	return job.Decode(data)
}

func (b *Backend) UpdateJob(ctx context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := db.WithTx(ctx, b.pool, func(tx pgx.Tx) error {
		var data []byte
		err := tx.QueryRow(ctx, `SELECT data FROM jobq_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&data)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return job.ErrNotFound
			}
			return err
		}

		j, err := job.Decode(data)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		enc, err := job.Encode(j)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE jobq_jobs SET data = $2 WHERE id = $1`, jobID, enc); err != nil {
			return err
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM jobq_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("jobq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}
