package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobq/pkg/job"
)

// ErrUpdateConflict is returned when an update keeps losing the race with
// concurrent writers of the same record.
var ErrUpdateConflict = errors.New("jobq/redis: update conflict")

func (b *Backend) PutJob(ctx context.Context, j *job.Job) error {
	data, err := job.Encode(j)
	if err != nil {
		return fmt.Errorf("jobq/redis: encode job: %w", err)
	}

	ok, err := b.client.SetNX(ctx, b.jobKey(j.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("jobq/redis: put job: %w", err)
	}
	if !ok {
		return job.ErrDuplicateID
	}
	return nil
}

func (b *Backend) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	data, err := b.client.Get(ctx, b.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("jobq/redis: get job: %w", err)
	}
	return job.Decode(data)
}

func (b *Backend) UpdateJob(ctx context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error) {
	key := b.jobKey(jobID)

	var updated *job.Job
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = j
		return nil
	}

	for attempt := range b.maxRetries {
		err := b.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		b.logger.DebugContext(ctx, "job update conflict, retrying",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, ErrUpdateConflict
}

func (b *Backend) DeleteJob(ctx context.Context, jobID string) error {
	n, err := b.client.Del(ctx, b.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("jobq/redis: delete job: %w", err)
	}
	if n == 0 {
		return job.ErrNotFound
	}
	return nil
}
