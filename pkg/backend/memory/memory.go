// Package memory provides an in-process queue backend.
//
// State lives in maps guarded by one mutex and is lost when the process
// exits. Use it in tests and single-process setups where jobs need not
// survive a restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

var _ queue.Backend = (*Backend)(nil)

// Backend is a queue.Backend kept in memory.
type Backend struct {
	jobs    map[string]*job.Job
	pending map[string][]string
	queues  map[string]struct{}
	// closed and replaced on every push to wake blocked poppers.
	signal chan struct{}
	mu     sync.Mutex
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		jobs:    make(map[string]*job.Job),
		pending: make(map[string][]string),
		queues:  make(map[string]struct{}),
		signal:  make(chan struct{}),
	}
}

func (b *Backend) PutJob(_ context.Context, j *job.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[j.ID]; ok {
		return job.ErrDuplicateID
	}
	b.jobs[j.ID] = j.Clone()
	return nil
}

func (b *Backend) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (b *Backend) UpdateJob(_ context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.jobs[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	b.jobs[jobID] = next
	return next.Clone(), nil
}

func (b *Backend) DeleteJob(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[jobID]; !ok {
		return job.ErrNotFound
	}
	delete(b.jobs, jobID)
	return nil
}

func (b *Backend) Push(_ context.Context, q, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queues[q] = struct{}{}
	b.pending[q] = append(b.pending[q], jobID)
	close(b.signal)
	b.signal = make(chan struct{})
	return nil
}

func (b *Backend) Pop(_ context.Context, queues []string) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, jobID, ok := b.popLocked(queues)
	if !ok {
		return "", "", queue.ErrEmpty
	}
	return q, jobID, nil
}

func (b *Backend) popLocked(queues []string) (string, string, bool) {
	for _, q := range queues {
		ids := b.pending[q]
		if len(ids) == 0 {
			continue
		}
		b.pending[q] = ids[1:]
		return q, ids[0], true
	}
	return "", "", false
}

func (b *Backend) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (string, string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		q, jobID, ok := b.popLocked(queues)
		signal := b.signal
		b.mu.Unlock()
		if ok {
			return q, jobID, nil
		}

		select {
		case <-signal:
		case <-deadline:
			return "", "", queue.ErrEmpty
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func (b *Backend) Pending(_ context.Context, q string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.pending[q]), nil
}

func (b *Backend) Len(_ context.Context, q string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[q]), nil
}

func (b *Backend) Remove(_ context.Context, q, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.pending[q]
	i := slices.Index(ids, jobID)
	if i < 0 {
		return job.ErrNotFound
	}
	b.pending[q] = slices.Delete(slices.Clone(ids), i, i+1)
	return nil
}

func (b *Backend) Empty(_ context.Context, q string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.pending[q]
	for _, jobID := range ids {
		delete(b.jobs, jobID)
	}
	delete(b.pending, q)
	return len(ids), nil
}

func (b *Backend) AddQueue(_ context.Context, q string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[q] = struct{}{}
	return nil
}

func (b *Backend) Queues(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.queues))
	for q := range b.queues {
		names = append(names, q)
	}
	return names, nil
}

func (b *Backend) RemoveQueue(_ context.Context, q string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, q)
	delete(b.pending, q)
	return nil
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) Close() error { return nil }
