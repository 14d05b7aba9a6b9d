package badger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/backend/badger"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/queue/queuetest"
)

func TestBackend(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) queue.Backend {
		b, err := badger.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestBackendInMemory(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) queue.Backend {
		b, err := badger.Open("", badger.WithInMemory())
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")

	b, err := badger.Open(dir)
	require.NoError(t, err)

	r, err := queue.NewRegistry(b)
	require.NoError(t, err)
	q, err := r.GetOrCreate(ctx, "durable")
	require.NoError(t, err)

	var ids []string
	for range 3 {
		j, err := job.New("noop", nil)
		require.NoError(t, err)
		jobID, err := q.Enqueue(ctx, j)
		require.NoError(t, err)
		ids = append(ids, jobID)
	}
	require.NoError(t, b.Close())

	b, err = badger.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	r, err = queue.NewRegistry(b)
	require.NoError(t, err)
	q, err = r.Queue("durable")
	require.NoError(t, err)

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, pending)

	// New pushes keep FIFO order after the sequence lease is renewed.
	j, err := job.New("noop", nil)
	require.NoError(t, err)
	last, err := q.Enqueue(ctx, j)
	require.NoError(t, err)

	pending, err = q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, append(ids, last), pending)

	require.NoError(t, b.Ping(ctx))
}

func fill(t *testing.T, q *queue.Queue, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for range n {
		j, err := job.New("noop", nil)
		require.NoError(t, err)
		jobID, err := q.Enqueue(context.Background(), j)
		require.NoError(t, err)
		ids = append(ids, jobID)
	}
	return ids
}

func TestEmptyInBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  []badger.Option
		count int
	}{
		{name: "small batches", opts: []badger.Option{badger.WithBatchSize(7)}, count: 30},
		{name: "exact multiple of batch", opts: []badger.Option{badger.WithBatchSize(5)}, count: 20},
		{name: "default batch", count: 2500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			b, err := badger.Open("", append(tt.opts, badger.WithInMemory())...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })

			r, err := queue.NewRegistry(b)
			require.NoError(t, err)
			big, err := r.GetOrCreate(ctx, "big")
			require.NoError(t, err)
			other, err := r.GetOrCreate(ctx, "other")
			require.NoError(t, err)

			ids := fill(t, big, tt.count)
			kept := fill(t, other, 2)

			n, err := big.Empty(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)

			count, err := big.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)

			_, err = r.Store().Get(ctx, ids[0])
			require.ErrorIs(t, err, job.ErrNotFound)
			_, err = r.Store().Get(ctx, ids[len(ids)-1])
			require.ErrorIs(t, err, job.ErrNotFound)

			pending, err := other.PeekAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, kept, pending)

			// The queue itself stays registered.
			all, err := r.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestRemoveQueueInBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b, err := badger.Open("", badger.WithInMemory(), badger.WithBatchSize(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	r, err := queue.NewRegistry(b)
	require.NoError(t, err)
	q, err := r.GetOrCreate(ctx, "doomed")
	require.NoError(t, err)
	fill(t, q, 17)

	require.NoError(t, r.Remove(ctx, "doomed"))

	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
