package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/jobq/pkg/id"
	"github.com/dmitrymomot/jobq/pkg/job"
)

// Queue is a handle on one named FIFO list of pending job ids.
// Handles are cheap; all state lives in the backend.
type Queue struct {
	backend Backend
	store   *Store
	name    string
	key     string
}

// Name returns the queue name without the namespace prefix.
func (q *Queue) Name() string { return q.name }

// Key returns the internal, namespaced queue name.
func (q *Queue) Key() string { return q.key }

// Enqueue stores j and appends its id to the queue. The job's queue and
// status are set by the queue; an empty id is generated.
// The record is written before the id becomes visible to workers.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if j == nil {
		return "", errors.Join(job.ErrInvalidPayload, errors.New("job is nil"))
	}
	if j.ID == "" {
		j.ID = id.NewULID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	j.Queue = q.key
	j.Status = job.StatusQueued

	if err := q.store.Put(ctx, j); err != nil {
		return "", err
	}
	if err := q.backend.Push(ctx, q.key, j.ID); err != nil {
		// The id never became visible, the record would be unreachable.
		_ = q.store.Delete(context.WithoutCancel(ctx), j.ID)
		return "", err
	}

	return j.ID, nil
}

// Dequeue pops the head id without waiting. Returns ErrEmpty if nothing is
// pending.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	_, jobID, err := q.backend.Pop(ctx, []string{q.key})
	return jobID, err
}

// DequeueBlocking pops the head id, waiting up to timeout for one to arrive.
// A non-positive timeout waits until ctx is done. Returns ErrEmpty on timeout.
func (q *Queue) DequeueBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	_, jobID, err := q.backend.BlockingPop(ctx, []string{q.key}, timeout)
	return jobID, err
}

// PeekAll returns the pending ids, head first, without modifying the queue.
func (q *Queue) PeekAll(ctx context.Context) ([]string, error) {
	return q.backend.Pending(ctx, q.key)
}

// Jobs returns the records of all pending jobs, head first.
// Ids whose record has disappeared are skipped.
func (q *Queue) Jobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := q.PeekAll(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jobID := range ids {
		j, err := q.store.Get(ctx, jobID)
		if errors.Is(err, job.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// Count returns the number of pending ids.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.backend.Len(ctx, q.key)
}

// Remove takes jobID out of the pending list. Returns job.ErrNotFound if it
// is not pending in this queue. The record is left untouched.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	return q.backend.Remove(ctx, q.key, jobID)
}

// Cancel removes a pending job and marks its record cancelled.
// Fails with job.ErrNotFound if a worker already claimed it.
func (q *Queue) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	if err := q.Remove(ctx, jobID); err != nil {
		return nil, err
	}
	return q.store.Transition(ctx, jobID, job.StatusQueued, job.StatusCancelled, func(j *job.Job) {
		now := time.Now().UTC()
		j.EndedAt = &now
	})
}

// Empty drops every pending id along with its record and returns how many
// were dropped. The queue itself remains registered.
func (q *Queue) Empty(ctx context.Context) (int, error) {
	return q.backend.Empty(ctx, q.key)
}
