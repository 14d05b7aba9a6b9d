// Package queuetest holds the conformance suite every queue.Backend must pass.
//
//	func TestBackend(t *testing.T) {
//	    queuetest.Run(t, func(t *testing.T) queue.Backend {
//	        return memory.New()
//	    })
//	}
package queuetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/id"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

// Factory returns a ready backend. It may be called once per subtest and
// should register its own cleanup.
type Factory func(t *testing.T) queue.Backend

// Run executes the suite against backends produced by newBackend.
// Every subtest uses its own namespace, so backends may share storage.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, r *queue.Registry)
	}{
		{"store put get delete", testStoreCRUD},
		{"store update lifecycle", testStoreUpdate},
		{"enqueue dequeue fifo", testFIFO},
		{"dequeue empty", testDequeueEmpty},
		{"blocking dequeue timeout", testBlockingTimeout},
		{"blocking dequeue wakes on enqueue", testBlockingWakes},
		{"blocking dequeue honours context", testBlockingContext},
		{"peek does not modify", testPeek},
		{"remove", testRemove},
		{"cancel", testCancel},
		{"empty", testEmpty},
		{"registry", testRegistry},
		{"dequeue any order", testDequeueAnyOrder},
		{"concurrent dequeue exactly once", testConcurrentDequeue},
		{"remove races dequeue", testRemoveRace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			r, err := queue.NewRegistry(b, queue.WithNamespace("t"+strings.ToLower(id.NewShortID())))
			require.NoError(t, err)
			tt.fn(t, r)
		})
	}
}

func newJob(t *testing.T, title string) *job.Job {
	t.Helper()
	j, err := job.New("noop", map[string]string{"k": "v"}, job.WithTitle(title))
	require.NoError(t, err)
	return j
}

func enqueue(t *testing.T, q *queue.Queue, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := range n {
		jobID, err := q.Enqueue(context.Background(), newJob(t, "job "+string(rune('a'+i%26))))
		require.NoError(t, err)
		ids = append(ids, jobID)
	}
	return ids
}

func testStoreCRUD(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	s := r.Store()

	j := newJob(t, "crud")
	j.Queue = r.Namespace() + ":default"
	require.NoError(t, s.Put(ctx, j))
	require.ErrorIs(t, s.Put(ctx, j), job.ErrDuplicateID)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "crud", got.Title)
	assert.Equal(t, job.StatusQueued, got.Status)
	assert.True(t, j.CreatedAt.Equal(got.CreatedAt))
	assert.JSONEq(t, `{"k":"v"}`, string(got.Payload.Args))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, s.Delete(ctx, j.ID))
	require.ErrorIs(t, s.Delete(ctx, j.ID), job.ErrNotFound)
	_, err = s.Get(ctx, j.ID)
	require.ErrorIs(t, err, job.ErrNotFound)
}

func testStoreUpdate(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	s := r.Store()

	j := newJob(t, "update")
	require.NoError(t, s.Put(ctx, j))

	_, err := s.Update(ctx, j.ID, func(j *job.Job) error {
		j.Status = job.StatusFinished
		return nil
	})
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	_, err = s.Update(ctx, j.ID, func(j *job.Job) error {
		j.Title = "changed"
		return nil
	})
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	running, err := s.Transition(ctx, j.ID, job.StatusQueued, job.StatusRunning, func(j *job.Job) {
		j.Worker = "w1"
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, running.Status)

	_, err = s.Transition(ctx, j.ID, job.StatusQueued, job.StatusRunning, nil)
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	_, err = s.Update(ctx, j.ID, func(j *job.Job) error {
		j.Status = job.StatusFinished
		j.Result = []byte(`{"ok":true}`)
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFinished, got.Status)
	assert.Equal(t, "w1", got.Worker)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))

	abort := errors.New("abort")
	_, err = s.Update(ctx, j.ID, func(*job.Job) error { return abort })
	require.ErrorIs(t, err, abort)

	_, err = s.Update(ctx, "missing", func(*job.Job) error { return nil })
	require.ErrorIs(t, err, job.ErrNotFound)
}

func testFIFO(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.GetOrCreate(ctx, "fifo")
	require.NoError(t, err)

	ids := enqueue(t, q, 3)

	stored, err := r.Store().Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, q.Key(), stored.Queue)
	assert.Equal(t, job.StatusQueued, stored.Status)

	for _, want := range ids {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func testDequeueEmpty(t *testing.T, r *queue.Registry) {
	q, err := r.Queue("nothing")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func testBlockingTimeout(t *testing.T, r *queue.Registry) {
	q, err := r.Queue("idle")
	require.NoError(t, err)

	start := time.Now()
	_, err = q.DequeueBlocking(context.Background(), 200*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func testBlockingWakes(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.Queue("wake")
	require.NoError(t, err)

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		jobID, err := q.DequeueBlocking(ctx, 10*time.Second)
		done <- result{jobID, err}
	}()

	time.Sleep(100 * time.Millisecond)
	ids := enqueue(t, q, 1)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, ids[0], res.id)
	case <-time.After(8 * time.Second):
		t.Fatal("blocking dequeue did not wake up")
	}
}

func testBlockingContext(t *testing.T, r *queue.Registry) {
	q, err := r.Queue("cancelled")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = q.DequeueBlocking(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrEmpty), "got %v", err)
}

func testPeek(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.GetOrCreate(ctx, "peek")
	require.NoError(t, err)

	ids := enqueue(t, q, 3)

	got, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	jobs, err := q.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[1], jobs[1].ID)

	again, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, again)
}

func testRemove(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.GetOrCreate(ctx, "remove")
	require.NoError(t, err)

	ids := enqueue(t, q, 3)

	require.NoError(t, q.Remove(ctx, ids[1]))
	require.ErrorIs(t, q.Remove(ctx, ids[1]), job.ErrNotFound)
	require.ErrorIs(t, q.Remove(ctx, "missing"), job.ErrNotFound)

	got, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, got)

	// Remove leaves the record in place.
	_, err = r.Store().Get(ctx, ids[1])
	require.NoError(t, err)

	popped, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, q.Remove(ctx, popped), job.ErrNotFound)
}

func testCancel(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.GetOrCreate(ctx, "cancel")
	require.NoError(t, err)

	ids := enqueue(t, q, 2)

	cancelled, err := q.Cancel(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	_, err = q.Cancel(ctx, ids[0])
	require.ErrorIs(t, err, job.ErrNotFound)

	got, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, got)
}

func testEmpty(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.GetOrCreate(ctx, "empty")
	require.NoError(t, err)
	other, err := r.GetOrCreate(ctx, "kept")
	require.NoError(t, err)

	ids := enqueue(t, q, 3)
	keep := enqueue(t, other, 1)

	popped, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0], popped)

	n, err := q.Empty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	for _, jobID := range ids[1:] {
		_, err := r.Store().Get(ctx, jobID)
		require.ErrorIs(t, err, job.ErrNotFound)
	}
	// Already popped, not touched by Empty.
	_, err = r.Store().Get(ctx, popped)
	require.NoError(t, err)

	otherPending, err := other.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, keep, otherPending)

	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "kept"}, names(all))

	n, err = q.Empty(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testRegistry(t *testing.T, r *queue.Registry) {
	ctx := context.Background()

	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = r.Queue("lookup-only")
	require.NoError(t, err)

	_, err = r.GetOrCreate(ctx, "zeta")
	require.NoError(t, err)
	alpha, err := r.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)

	implicit, err := r.Queue("implicit")
	require.NoError(t, err)
	enqueue(t, implicit, 1)

	// Another namespace on the same backend stays invisible.
	foreign, err := queue.NewRegistry(r.Backend(), queue.WithNamespace(r.Namespace()+"x"))
	require.NoError(t, err)
	_, err = foreign.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)

	all, err = r.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "implicit", "zeta"}, names(all))

	assert.Equal(t, r.Namespace()+":alpha", alpha.Key())
	assert.Equal(t, "alpha", r.RemoveNamePrefix(alpha.Key()))
	assert.Equal(t, "plain", r.RemoveNamePrefix("plain"))

	require.NoError(t, r.Remove(ctx, "implicit"))
	all, err = r.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names(all))

	_, err = r.Queue("bad:name")
	require.ErrorIs(t, err, queue.ErrInvalidName)
	_, err = r.GetOrCreate(ctx, "")
	require.ErrorIs(t, err, queue.ErrInvalidName)
}

func testDequeueAnyOrder(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	high, err := r.Queue("high")
	require.NoError(t, err)
	low, err := r.Queue("low")
	require.NoError(t, err)

	lowIDs := enqueue(t, low, 1)
	highIDs := enqueue(t, high, 1)

	q, jobID, err := r.DequeueAny(ctx, []*queue.Queue{high, low}, 0)
	require.NoError(t, err)
	assert.Equal(t, "high", q.Name())
	assert.Equal(t, highIDs[0], jobID)

	q, jobID, err = r.DequeueAny(ctx, []*queue.Queue{high, low}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "low", q.Name())
	assert.Equal(t, lowIDs[0], jobID)

	_, _, err = r.DequeueAny(ctx, []*queue.Queue{high, low}, 0)
	require.ErrorIs(t, err, queue.ErrEmpty)

	_, _, err = r.DequeueAny(ctx, nil, 0)
	require.ErrorIs(t, err, queue.ErrNoQueues)
}

func testConcurrentDequeue(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.Queue("race")
	require.NoError(t, err)

	const total, consumers = 50, 5
	ids := enqueue(t, q, total)

	var (
		mu   sync.Mutex
		seen = make(map[string]int, total)
		wg   sync.WaitGroup
	)
	for range consumers {
		wg.Go(func() {
			for {
				jobID, err := q.Dequeue(ctx)
				if errors.Is(err, queue.ErrEmpty) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[jobID]++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	require.Len(t, seen, total)
	for _, jobID := range ids {
		assert.Equal(t, 1, seen[jobID], "job %s", jobID)
	}
}

func testRemoveRace(t *testing.T, r *queue.Registry) {
	ctx := context.Background()
	q, err := r.Queue("contested")
	require.NoError(t, err)

	for range 10 {
		ids := enqueue(t, q, 1)

		var (
			wg                sync.WaitGroup
			removeErr, popErr error
			popped            string
		)
		wg.Go(func() { removeErr = q.Remove(ctx, ids[0]) })
		wg.Go(func() { popped, popErr = q.Dequeue(ctx) })
		wg.Wait()

		removed := removeErr == nil
		dequeued := popErr == nil && popped == ids[0]
		assert.True(t, removed != dequeued, "remove=%v dequeue=%v", removeErr, popErr)
	}
}

func names(queues []*queue.Queue) []string {
	out := make([]string, len(queues))
	for i, q := range queues {
		out[i] = q.Name()
	}
	return out
}
