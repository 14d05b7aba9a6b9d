package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobq/pkg/db"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

const popQuery = `
DELETE FROM jobq_pending
WHERE seq = (
    SELECT seq FROM jobq_pending
    WHERE queue = ANY($1::text[])
    ORDER BY array_position($1::text[], queue), seq
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING queue, job_id`

const emptyQuery = `
WITH dropped AS (
    DELETE FROM jobq_pending WHERE queue = $1 RETURNING job_id
), gone AS (
    DELETE FROM jobq_jobs WHERE id IN (SELECT job_id FROM dropped)
)
SELECT count(*) FROM dropped`

func (b *Backend) Push(ctx context.Context, name, jobID string) error {
	err := db.WithTx(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO jobq_queues (name) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO jobq_pending (queue, job_id) VALUES ($1, $2)`, name, jobID); err != nil {
			return err
		}
		// Delivered on commit.
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("jobq/postgres: push: %w", err)
	}
	return nil
}

func (b *Backend) Pop(ctx context.Context, queues []string) (string, string, error) {
	var name, jobID string
	err := b.pool.QueryRow(ctx, popQuery, queues).Scan(&name, &jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", queue.ErrEmpty
		}
		return "", "", fmt.Errorf("jobq/postgres: pop: %w", err)
	}
	return name, jobID, nil
}

func (b *Backend) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (string, string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		wait := b.pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", "", queue.ErrEmpty
			}
			wait = min(wait, remaining)
		}

		name, jobID, err := b.listenAndPop(ctx, queues, wait)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		return name, jobID, err
	}
}

// listenAndPop subscribes to push notifications, tries a pop and, if every
// queue is empty, waits up to wait for a notification. Returns ErrEmpty when
// the caller should try again.
func (b *Backend) listenAndPop(ctx context.Context, queues []string, wait time.Duration) (string, string, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return "", "", fmt.Errorf("jobq/postgres: acquire listener: %w", err)
	}
	reusable := true
	defer func() {
		bg := context.WithoutCancel(ctx)
		if reusable {
			_, _ = conn.Exec(bg, `UNLISTEN *`)
		} else {
			// An interrupted wait leaves the connection unusable.
			_ = conn.Conn().Close(bg)
		}
		conn.Release()
	}()

	// Subscribe before popping so a push in between is not missed.
	if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return "", "", fmt.Errorf("jobq/postgres: listen: %w", err)
	}

	name, jobID, err := b.Pop(ctx, queues)
	if !errors.Is(err, queue.ErrEmpty) {
		return name, jobID, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	switch {
	case err == nil:
		return "", "", queue.ErrEmpty
	case ctx.Err() != nil:
		reusable = false
		return "", "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		reusable = false
		return "", "", queue.ErrEmpty
	default:
		reusable = false
		return "", "", fmt.Errorf("jobq/postgres: wait for notification: %w", err)
	}
}

func (b *Backend) Pending(ctx context.Context, name string) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT job_id FROM jobq_pending WHERE queue = $1 ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: pending: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: pending: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (b *Backend) Len(ctx context.Context, name string) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT count(*) FROM jobq_pending WHERE queue = $1`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("jobq/postgres: len: %w", err)
	}
	return n, nil
}

func (b *Backend) Remove(ctx context.Context, name, jobID string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM jobq_pending WHERE queue = $1 AND job_id = $2`, name, jobID)
	if err != nil {
		return fmt.Errorf("jobq/postgres: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (b *Backend) Empty(ctx context.Context, name string) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, emptyQuery, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("jobq/postgres: empty: %w", err)
	}
	return n, nil
}

func (b *Backend) AddQueue(ctx context.Context, name string) error {
	if _, err := b.pool.Exec(ctx, `INSERT INTO jobq_queues (name) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
		return fmt.Errorf("jobq/postgres: add queue: %w", err)
	}
	return nil
}

func (b *Backend) Queues(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT name FROM jobq_queues`)
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: queues: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: queues: %w", err)
	}
	return names, nil
}

func (b *Backend) RemoveQueue(ctx context.Context, name string) error {
	err := db.WithTx(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM jobq_pending WHERE queue = $1`, name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM jobq_queues WHERE name = $1`, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("jobq/postgres: remove queue: %w", err)
	}
	return nil
}
