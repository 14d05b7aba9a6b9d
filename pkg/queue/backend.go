package queue

import (
	"context"
	"time"

	"github.com/dmitrymomot/jobq/pkg/job"
)

// Backend is the storage contract shared by every queue implementation.
//
// Queue names passed to a Backend are internal (namespaced) names. Each
// operation listed as atomic must be a single indivisible step with respect to
// concurrent callers, including callers in other processes when the backend
// is shared.
type Backend interface {
	// PutJob stores a new record. Returns job.ErrDuplicateID if the id exists.
	PutJob(ctx context.Context, j *job.Job) error
	// GetJob returns a copy of the record or job.ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	// UpdateJob atomically loads the record, applies fn to it and stores the
	// result. An error from fn aborts the update and is returned as is.
	UpdateJob(ctx context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error)
	// DeleteJob removes the record or returns job.ErrNotFound.
	DeleteJob(ctx context.Context, jobID string) error

	// Push appends jobID to the tail of queue's pending list and registers
	// the queue name.
	Push(ctx context.Context, queue, jobID string) error
	// Pop atomically removes the head of the first non-empty queue, checked in
	// the given order. Returns ErrEmpty when all are empty.
	Pop(ctx context.Context, queues []string) (string, string, error)
	// BlockingPop behaves like Pop but waits up to timeout for an id to
	// arrive. A non-positive timeout waits until ctx is done.
	BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (string, string, error)
	// Pending returns a snapshot of queue's pending ids, head first.
	Pending(ctx context.Context, queue string) ([]string, error)
	// Len returns the number of pending ids in queue.
	Len(ctx context.Context, queue string) (int, error)
	// Remove atomically removes jobID from queue's pending list. Returns
	// job.ErrNotFound if it is not pending there.
	Remove(ctx context.Context, queue, jobID string) error
	// Empty atomically removes every pending id of queue together with its
	// record and returns how many ids were removed. Ids popped concurrently
	// are not affected.
	Empty(ctx context.Context, queue string) (int, error)

	// AddQueue registers a queue name without enqueueing anything.
	AddQueue(ctx context.Context, queue string) error
	// Queues returns every registered queue name in no particular order.
	Queues(ctx context.Context) ([]string, error)
	// RemoveQueue unregisters a queue name and drops its pending list.
	RemoveQueue(ctx context.Context, queue string) error

	// Ping checks connectivity to the underlying storage.
	Ping(ctx context.Context) error
	// Close releases resources owned by the backend.
	Close() error
}
