package jobq_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq"
	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/worker"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addTask struct{}

func (addTask) Name() string { return "add" }

func (addTask) Handle(_ context.Context, args addArgs) (int, error) {
	return args.A + args.B, nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("registers the test task", func(t *testing.T) {
		t.Parallel()

		c, err := jobq.New(memory.New())
		require.NoError(t, err)
		assert.True(t, c.Tasks().Has(job.TestTaskName))
		assert.Equal(t, queue.DefaultNamespace, c.Registry().Namespace())
	})

	t.Run("rejects invalid namespace", func(t *testing.T) {
		t.Parallel()

		_, err := jobq.New(memory.New(), jobq.WithNamespace("a b"))
		require.ErrorIs(t, err, queue.ErrInvalidName)
	})
}

func TestClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := jobq.New(memory.New(),
		jobq.WithNamespace("shop"),
		jobq.WithTasks(job.WithResultTask[addArgs, int](addTask{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	j, err := c.Enqueue(ctx, "", "add", addArgs{A: 2, B: 3}, job.WithTitle("Add"))
	require.NoError(t, err)
	assert.Equal(t, "shop:default", j.Queue)
	assert.Equal(t, jobq.StatusQueued, j.Status)

	infos, err := c.Admin().List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, jobq.JobInfo{ID: j.ID, Title: "Add", Created: infos[0].Created, Queue: jobq.DefaultQueue}, infos[0])

	w, err := c.NewWorker(worker.WithBurst(true))
	require.NoError(t, err)
	require.NoError(t, w.Work(ctx))

	got, err := c.Job(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobq.StatusFinished, got.Status)
	assert.JSONEq(t, `5`, string(got.Result))
}

func TestEnqueue_Errors(t *testing.T) {
	t.Parallel()

	c, err := jobq.New(memory.New())
	require.NoError(t, err)

	_, err = c.Enqueue(context.Background(), "bad name", "add", nil)
	require.ErrorIs(t, err, queue.ErrInvalidName)

	_, err = c.Enqueue(context.Background(), "", "", nil)
	require.ErrorIs(t, err, job.ErrInvalidPayload)
}
