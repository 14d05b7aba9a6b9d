package admin_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/admin"
	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/worker"
)

type fixture struct {
	registry *queue.Registry
	svc      *admin.Service
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := queue.NewRegistry(memory.New())
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(logs, nil))
	return &fixture{
		registry: r,
		svc:      admin.NewService(r, admin.WithLogger(log)),
		logs:     logs,
	}
}

func (f *fixture) enqueue(t *testing.T, queueName string, opts ...job.Option) *job.Job {
	t.Helper()
	if queueName == "" {
		queueName = queue.DefaultQueue
	}
	q, err := f.registry.GetOrCreate(context.Background(), queueName)
	require.NoError(t, err)
	j, err := job.New(job.TestTaskName, job.TestArgs{Message: "hi"}, opts...)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), j)
	require.NoError(t, err)
	return j
}

func ids(infos []admin.JobInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.ID)
	}
	return out
}

func TestList(t *testing.T) {
	t.Parallel()

	t.Run("all queues", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		j1 := f.enqueue(t, "")
		j2 := f.enqueue(t, "")
		j3 := f.enqueue(t, "my_queue")

		infos, err := f.svc.List(context.Background(), nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{j1.ID, j2.ID, j3.ID}, ids(infos))
	})

	t.Run("specific queues", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		f.enqueue(t, "")
		j2 := f.enqueue(t, "q2")
		j3 := f.enqueue(t, "q3")
		j4 := f.enqueue(t, "q3")

		infos, err := f.svc.List(context.Background(), []string{"q2"})
		require.NoError(t, err)
		assert.Equal(t, []string{j2.ID}, ids(infos))

		infos, err = f.svc.List(context.Background(), []string{"q2", "q3"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{j2.ID, j3.ID, j4.ID}, ids(infos))
	})

	t.Run("unknown queue is empty", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		infos, err := f.svc.List(context.Background(), []string{"nothing"})
		require.NoError(t, err)
		assert.Empty(t, infos)

		all, err := f.registry.All(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all, "listing must not register queues")
	})

	t.Run("invalid queue name", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.List(context.Background(), []string{"a:b"})
		require.ErrorIs(t, err, admin.ErrValidation)
	})
}

func TestShow(t *testing.T) {
	t.Parallel()

	t.Run("existing job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		j := f.enqueue(t, "my_queue", job.WithTitle("Title"))

		info, err := f.svc.Show(context.Background(), j.ID)
		require.NoError(t, err)
		assert.Equal(t, j.ID, info.ID)
		assert.Equal(t, "Title", info.Title)
		assert.Equal(t, "my_queue", info.Queue)

		created, err := time.Parse(admin.CreatedLayout, info.Created)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), created, 10*time.Second)
	})

	t.Run("not existing job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.Show(context.Background(), "does-not-exist")
		require.ErrorIs(t, err, admin.ErrNotFound)
		require.ErrorIs(t, err, job.ErrNotFound)
	})
	t.Run("job of another namespace", func(t *testing.T) {
		t.Parallel()
		b := memory.New()

		ra, err := queue.NewRegistry(b, queue.WithNamespace("a"))
		require.NoError(t, err)
		rb, err := queue.NewRegistry(b, queue.WithNamespace("b"))
		require.NoError(t, err)
		svcA, svcB := admin.NewService(ra), admin.NewService(rb)

		jobs, err := svcB.Test(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		id := jobs[0].ID

		_, err = svcA.Show(context.Background(), id)
		require.ErrorIs(t, err, admin.ErrNotFound)
		require.ErrorIs(t, svcA.Cancel(context.Background(), id), admin.ErrNotFound)

		info, err := svcB.Show(context.Background(), id)
		require.NoError(t, err, "cancel in a must not touch b")
		assert.Equal(t, queue.DefaultQueue, info.Queue)
	})
}

func TestClear(t *testing.T) {
	t.Parallel()

	t.Run("all queues", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		f.enqueue(t, "")
		f.enqueue(t, "q")
		f.enqueue(t, "q")
		f.enqueue(t, "q")

		names, err := f.svc.Clear(context.Background(), nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{queue.DefaultQueue, "q"}, names)

		infos, err := f.svc.List(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, infos)

		assert.Contains(t, f.logs.String(), `Cleared background job queue \"default\"`)
		assert.Contains(t, f.logs.String(), `Cleared background job queue \"q\"`)
	})

	t.Run("specific queues", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		j1 := f.enqueue(t, "")
		f.enqueue(t, "q1")
		f.enqueue(t, "q2")
		f.enqueue(t, "q2")

		names, err := f.svc.Clear(context.Background(), []string{"q1", "q2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"q1", "q2"}, names)

		infos, err := f.svc.List(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{j1.ID}, ids(infos))
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()

	t.Run("existing job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		j1 := f.enqueue(t, "q")
		j2 := f.enqueue(t, "q")

		require.NoError(t, f.svc.Cancel(context.Background(), j1.ID))

		infos, err := f.svc.List(context.Background(), []string{"q"})
		require.NoError(t, err)
		assert.Equal(t, []string{j2.ID}, ids(infos))

		_, err = f.svc.Show(context.Background(), j1.ID)
		require.ErrorIs(t, err, admin.ErrNotFound)
		require.ErrorIs(t, f.svc.Cancel(context.Background(), j1.ID), admin.ErrNotFound)

		assert.Contains(t, f.logs.String(), "Cancelled background job "+j1.ID)
	})

	t.Run("not existing job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		require.ErrorIs(t, f.svc.Cancel(context.Background(), "does-not-exist"), admin.ErrNotFound)
	})

	t.Run("job already claimed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		j := f.enqueue(t, "")
		q, err := f.registry.Queue(queue.DefaultQueue)
		require.NoError(t, err)
		popped, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, j.ID, popped)

		require.ErrorIs(t, f.svc.Cancel(context.Background(), j.ID), admin.ErrNotFound)

		// The record stays for the worker that popped it.
		_, err = f.svc.Show(context.Background(), j.ID)
		require.NoError(t, err)
	})
}

func TestTestJobs(t *testing.T) {
	t.Parallel()

	t.Run("default queue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		jobs, err := f.svc.Test(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, admin.TestJobTitle, jobs[0].Title)
		assert.Equal(t, queue.DefaultQueue, f.svc.DisplayQueue(jobs[0]))
	})

	t.Run("one job per queue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		jobs, err := f.svc.Test(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, jobs, 2)

		infos, err := f.svc.List(context.Background(), []string{"b"})
		require.NoError(t, err)
		assert.Equal(t, []string{jobs[1].ID}, ids(infos))
	})
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tasks := job.NewRegistry(job.WithTestTask(nil))

	_, err := f.svc.Test(ctx, nil)
	require.NoError(t, err)
	q2Jobs, err := f.svc.Test(ctx, []string{"q2"})
	require.NoError(t, err)

	infos, err := f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	w, err := worker.New(f.registry, tasks, worker.WithBurst(true))
	require.NoError(t, err)
	require.NoError(t, w.Work(ctx))
	assert.EqualValues(t, 1, w.Processed())

	infos, err = f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{q2Jobs[0].ID}, ids(infos))

	names, err := f.svc.Clear(ctx, []string{"q2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, names)

	infos, err = f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
