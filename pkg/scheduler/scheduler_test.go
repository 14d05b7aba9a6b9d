package scheduler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/scheduler"
)

func newRegistry(t *testing.T) *queue.Registry {
	t.Helper()
	r, err := queue.NewRegistry(memory.New())
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []scheduler.Entry
	}{
		{name: "missing name", entries: []scheduler.Entry{{Spec: "@hourly", Task: "t"}}},
		{name: "missing task", entries: []scheduler.Entry{{Name: "a", Spec: "@hourly"}}},
		{name: "bad spec", entries: []scheduler.Entry{{Name: "a", Spec: "every day", Task: "t"}}},
		{name: "bad queue", entries: []scheduler.Entry{{Name: "a", Spec: "@hourly", Task: "t", Queue: "x:y"}}},
		{name: "duplicate", entries: []scheduler.Entry{
			{Name: "a", Spec: "@hourly", Task: "t"},
			{Name: "a", Spec: "@daily", Task: "t"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := scheduler.New(newRegistry(t), tt.entries)
			require.ErrorIs(t, err, scheduler.ErrInvalidEntry)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		s, err := scheduler.New(newRegistry(t), []scheduler.Entry{{Name: "a", Spec: "@hourly", Task: "t"}})
		require.NoError(t, err)
		entries := s.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, queue.DefaultQueue, entries[0].Queue)
		assert.Equal(t, "a", entries[0].Title)
	})
}

func TestNext(t *testing.T) {
	t.Parallel()

	s, err := scheduler.New(newRegistry(t), []scheduler.Entry{{Name: "nightly", Spec: "0 3 * * *", Task: "t"}})
	require.NoError(t, err)

	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	next, err := s.Next("nightly", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = s.Next("nope", from)
	require.ErrorIs(t, err, scheduler.ErrUnknownEntry)
}

func TestFire(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	s, err := scheduler.New(r, []scheduler.Entry{{
		Name:     "report",
		Spec:     "@daily",
		Queue:    "reports",
		Task:     "build_report",
		Title:    "Daily report",
		ArgsYAML: map[string]any{"format": "pdf"},
	}})
	require.NoError(t, err)

	j, err := s.Fire(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, "build_report", j.Payload.Task)
	assert.Equal(t, "Daily report", j.Title)
	assert.JSONEq(t, `{"format":"pdf"}`, string(j.Payload.Args))

	q, err := r.Queue("reports")
	require.NoError(t, err)
	pending, err := q.PeekAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{j.ID}, pending)

	_, err = s.Fire(context.Background(), "nope")
	require.ErrorIs(t, err, scheduler.ErrUnknownEntry)
}

func TestRun(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	s, err := scheduler.New(r, []scheduler.Entry{{
		Name: "tick",
		Spec: "@every 1s",
		Task: "noop",
		Args: json.RawMessage(`{"n":1}`),
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	q, err := r.Queue(queue.DefaultQueue)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, err := q.Count(context.Background())
		return err == nil && n > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
