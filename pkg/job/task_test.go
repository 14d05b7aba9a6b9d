package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/job"
)

type greetArgs struct {
	Name string `json:"name"`
}

type greetTask struct {
	err  error
	seen string
}

func (t *greetTask) Name() string { return "greet" }

func (t *greetTask) Handle(_ context.Context, p greetArgs) error {
	t.seen = p.Name
	return t.err
}

type sumArgs struct {
	A, B int
}

type sumTask struct{}

func (sumTask) Name() string { return "sum" }

func (sumTask) Handle(_ context.Context, p sumArgs) (int, error) {
	return p.A + p.B, nil
}

type panicTask struct{}

func (panicTask) Name() string { return "panic" }

func (panicTask) Handle(context.Context, struct{}) error {
	panic("boom")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("executes typed task", func(t *testing.T) {
		t.Parallel()

		task := &greetTask{}
		r := job.NewRegistry(job.WithTask[greetArgs](task))

		res, err := r.Execute(context.Background(), job.Payload{
			Task: "greet",
			Args: json.RawMessage(`{"name":"ada"}`),
		})
		require.NoError(t, err)
		assert.Nil(t, res)
		assert.Equal(t, "ada", task.seen)
	})

	t.Run("propagates handler error", func(t *testing.T) {
		t.Parallel()

		wantErr := errors.New("smtp down")
		r := job.NewRegistry(job.WithTask[greetArgs](&greetTask{err: wantErr}))

		_, err := r.Execute(context.Background(), job.Payload{Task: "greet"})
		require.ErrorIs(t, err, wantErr)
	})

	t.Run("encodes result", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry(job.WithResultTask[sumArgs, int](sumTask{}))

		res, err := r.Execute(context.Background(), job.Payload{
			Task: "sum",
			Args: json.RawMessage(`{"A":2,"B":3}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "5", string(res))
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry()
		_, err := r.Execute(context.Background(), job.Payload{Task: "missing"})
		require.ErrorIs(t, err, job.ErrUnknownTask)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry(job.WithTask[greetArgs](&greetTask{}))
		_, err := r.Execute(context.Background(), job.Payload{
			Task: "greet",
			Args: json.RawMessage(`[1,2]`),
		})
		require.ErrorIs(t, err, job.ErrInvalidPayload)
	})

	t.Run("recovers panic", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry(job.WithTask[struct{}](panicTask{}))
		_, err := r.Execute(context.Background(), job.Payload{Task: "panic"})
		require.ErrorIs(t, err, job.ErrTaskPanicked)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("names are sorted", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry(
			job.WithResultTask[sumArgs, int](sumTask{}),
			job.WithTask[greetArgs](&greetTask{}),
			job.WithTestTask(nil),
		)
		assert.Equal(t, []string{"greet", "sum", job.TestTaskName}, r.Names())
		assert.True(t, r.Has("sum"))
		assert.False(t, r.Has("missing"))
	})

	t.Run("built-in test task", func(t *testing.T) {
		t.Parallel()

		r := job.NewRegistry(job.WithTestTask(nil))
		_, err := r.Execute(context.Background(), job.Payload{
			Task: job.TestTaskName,
			Args: json.RawMessage(`{"message":"A test job"}`),
		})
		require.NoError(t, err)
	})
}
