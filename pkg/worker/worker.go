// Package worker runs the loop that takes jobs off queues and executes them.
//
// A Worker watches one or more queues in a fixed order, claims each popped
// job by moving its record from queued to running and executes the task
// through a middleware chain. The outcome is recorded as finished (with the
// task result) or failed (with the error). Jobs are never retried.
//
//	w, err := worker.New(registry, tasks,
//	    worker.WithQueues("high", "default"),
//	    worker.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	return w.Work(ctx)
//
// Cancelling ctx stops the loop before the next fetch. A job that is already
// executing runs to completion first.
//
// A worker that dies mid-job leaves the record in the running state; the
// record names the worker and the start time so it can be found.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/jobq/pkg/id"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

// State is the worker's current activity.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateExecuting State = "executing"
	StateStopped   State = "stopped"
)

// MaxErrorLength bounds the error message stored on a failed job.
const MaxErrorLength = 4096

// ErrAlreadyRunning is returned when Work is called on a running worker.
var ErrAlreadyRunning = errors.New("worker: already running")

// Worker executes jobs from a fixed list of queues.
type Worker struct {
	registry     *queue.Registry
	tasks        *job.Registry
	logger       *slog.Logger
	state        atomic.Value
	name         string
	queues       []string
	middleware   []Middleware
	pollTimeout  time.Duration
	errorBackoff time.Duration
	processed    atomic.Int64
	failed       atomic.Int64
	mu           sync.Mutex
	running      bool
	burst        bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueues sets the queues to watch, highest priority first.
// Default: "default".
func WithQueues(names ...string) Option {
	return func(w *Worker) {
		if len(names) > 0 {
			w.queues = names
		}
	}
}

// WithBurst makes Work return as soon as every queue is empty.
func WithBurst(burst bool) Option {
	return func(w *Worker) {
		w.burst = burst
	}
}

// WithName sets the worker name stored on claimed jobs.
// Default: hostname plus a short random suffix.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithPollTimeout sets how long a single blocking fetch waits before the
// worker checks for shutdown again. Default: 5 seconds.
func WithPollTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithErrorBackoff sets the pause after a failed fetch. Default: 1 second.
func WithErrorBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.errorBackoff = d
		}
	}
}

// WithMiddleware appends middleware to the execution chain. They run inside
// the built-in logging, recover and timeout middleware.
func WithMiddleware(mws ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mws...)
	}
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a worker. Queue names are validated but not registered.
func New(registry *queue.Registry, tasks *job.Registry, opts ...Option) (*Worker, error) {
	w := &Worker{
		registry:     registry,
		tasks:        tasks,
		logger:       logger.NewNope(),
		name:         defaultName(),
		queues:       []string{queue.DefaultQueue},
		pollTimeout:  5 * time.Second,
		errorBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, name := range w.queues {
		if err := queue.ValidateName(name); err != nil {
			return nil, err
		}
	}
	w.state.Store(StateIdle)

	return w, nil
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "." + id.NewShortID()[10:]
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Queues returns the watched queue names in priority order.
func (w *Worker) Queues() []string { return append([]string(nil), w.queues...) }

// State returns the current state.
func (w *Worker) State() State { return w.state.Load().(State) }

// Processed returns the number of jobs executed, failed ones included.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of jobs that ended as failed.
func (w *Worker) Failed() int64 { return w.failed.Load() }

func (w *Worker) setState(s State) { w.state.Store(s) }

// Work runs the fetch-execute loop until ctx is cancelled or, in burst mode,
// until every queue is empty. It returns nil on a normal stop.
func (w *Worker) Work(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.setState(StateStopped)
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	queues := make([]*queue.Queue, 0, len(w.queues))
	for _, name := range w.queues {
		q, err := w.registry.Queue(name)
		if err != nil {
			return err
		}
		queues = append(queues, q)
	}

	ctx = logger.WithWorker(ctx, w.name)
	w.logger.InfoContext(ctx, "worker started",
		slog.Any("queues", w.queues),
		slog.Bool("burst", w.burst),
	)
	defer func() {
		w.logger.InfoContext(context.WithoutCancel(ctx), "worker stopped",
			slog.Int64("processed", w.processed.Load()),
			slog.Int64("failed", w.failed.Load()),
		)
	}()

	timeout := w.pollTimeout
	if w.burst {
		timeout = 0
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(StateFetching)
		q, jobID, err := w.registry.DequeueAny(ctx, queues, timeout)
		switch {
		case err == nil:
			// Let the job finish even if shutdown starts now.
			w.perform(context.WithoutCancel(ctx), q, jobID)
			w.setState(StateIdle)
		case errors.Is(err, queue.ErrEmpty):
			w.setState(StateIdle)
			if w.burst {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			w.setState(StateIdle)
			w.logger.ErrorContext(ctx, "failed to fetch job", slog.String("error", err.Error()))
			if !sleep(ctx, w.errorBackoff) {
				return nil
			}
		}
	}
}

// perform claims and executes one popped job.
func (w *Worker) perform(ctx context.Context, q *queue.Queue, jobID string) {
	ctx = logger.WithJobID(logger.WithQueue(ctx, q.Name()), jobID)
	store := w.registry.Store()

	started := time.Now().UTC()
	j, err := store.Transition(ctx, jobID, job.StatusQueued, job.StatusRunning, func(j *job.Job) {
		j.StartedAt = &started
		j.Worker = w.name
	})
	switch {
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrInvalidTransition):
		// Deleted or cancelled after it was queued.
		w.logger.DebugContext(ctx, "skipping job", slog.String("reason", err.Error()))
		return
	case err != nil:
		w.logger.ErrorContext(ctx, "failed to claim job", slog.String("error", err.Error()))
		return
	}

	w.setState(StateExecuting)
	result, execErr := w.execute(ctx, j)
	w.processed.Add(1)

	ended := time.Now().UTC()
	_, err = store.Update(ctx, jobID, func(rec *job.Job) error {
		rec.EndedAt = &ended
		if execErr != nil {
			rec.Status = job.StatusFailed
			rec.Error = truncate(execErr.Error(), MaxErrorLength)
			return nil
		}
		rec.Status = job.StatusFinished
		rec.Result = result
		return nil
	})
	if execErr != nil {
		w.failed.Add(1)
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to record job outcome", slog.String("error", err.Error()))
	}
}

func (w *Worker) execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	mws := append([]Middleware{
		Logging(w.logger),
		Recover(w.logger),
		Timeout(),
	}, w.middleware...)

	return Chain(mws...)(ctx, j, func(ctx context.Context) (json.RawMessage, error) {
		return w.tasks.Execute(ctx, j.Payload)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n-3], "") + "..."
}

// sleep waits for d or until ctx is done. Reports whether the full pause
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// String implements fmt.Stringer.
func (w *Worker) String() string {
	return fmt.Sprintf("%s %v", w.name, w.queues)
}
