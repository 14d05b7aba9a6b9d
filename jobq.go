package jobq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobq/pkg/admin"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/worker"
)

// Type aliases - public API
type (
	// Job is a stored job record.
	Job = job.Job

	// JobOption configures a job at enqueue time.
	JobOption = job.Option

	// Status is the lifecycle state of a job.
	Status = job.Status

	// Backend stores job records and pending lists.
	Backend = queue.Backend

	// TaskOption registers a task with the client.
	TaskOption = job.RegistryOption

	// Worker executes jobs.
	Worker = worker.Worker

	// WorkerOption configures a worker.
	WorkerOption = worker.Option

	// Middleware wraps job execution in workers.
	Middleware = worker.Middleware

	// JobInfo is the public view of a job returned by the admin operations.
	JobInfo = admin.JobInfo
)

// Job statuses.
const (
	StatusQueued    = job.StatusQueued
	StatusRunning   = job.StatusRunning
	StatusFinished  = job.StatusFinished
	StatusFailed    = job.StatusFailed
	StatusCancelled = job.StatusCancelled
)

// DefaultQueue is the queue used when none is named.
const DefaultQueue = queue.DefaultQueue

// Client ties a backend, a task registry and the admin operations together.
// It is safe for concurrent use.
type Client struct {
	backend   queue.Backend
	registry  *queue.Registry
	tasks     *job.Registry
	admin     *admin.Service
	logger    *slog.Logger
	namespace string
	taskOpts  []job.RegistryOption
}

// New creates a client on top of backend. The built-in "test" task is
// always registered.
//
// Example:
//
//	client, err := jobq.New(memory.New(),
//	    jobq.WithNamespace("shop"),
//	    jobq.WithTasks(job.WithTask[SendReceiptArgs](&SendReceipt{})),
//	)
func New(backend queue.Backend, opts ...Option) (*Client, error) {
	c := &Client{
		backend: backend,
		logger:  logger.NewNope(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var regOpts []queue.RegistryOption
	if c.namespace != "" {
		regOpts = append(regOpts, queue.WithNamespace(c.namespace))
	}
	registry, err := queue.NewRegistry(backend, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("jobq: %w", err)
	}

	c.registry = registry
	c.tasks = job.NewRegistry(append([]job.RegistryOption{job.WithTestTask(c.logger)}, c.taskOpts...)...)
	c.admin = admin.NewService(registry, admin.WithLogger(c.logger))

	return c, nil
}

// Backend returns the underlying backend.
func (c *Client) Backend() queue.Backend { return c.backend }

// Registry returns the queue registry.
func (c *Client) Registry() *queue.Registry { return c.registry }

// Tasks returns the task registry.
func (c *Client) Tasks() *job.Registry { return c.tasks }

// Admin returns the administrative operations.
func (c *Client) Admin() *admin.Service { return c.admin }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Enqueue creates a job for task with args and appends it to the named
// queue, registering the queue if needed. An empty queue name means the
// default queue.
func (c *Client) Enqueue(ctx context.Context, queueName, task string, args any, opts ...job.Option) (*job.Job, error) {
	if queueName == "" {
		queueName = queue.DefaultQueue
	}
	j, err := job.New(task, args, opts...)
	if err != nil {
		return nil, err
	}
	q, err := c.registry.GetOrCreate(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if _, err := q.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Job returns the stored record of a job.
func (c *Client) Job(ctx context.Context, jobID string) (*job.Job, error) {
	return c.registry.Store().Get(ctx, jobID)
}

// NewWorker creates a worker executing the client's tasks. The client
// logger is used unless an option overrides it.
func (c *Client) NewWorker(opts ...worker.Option) (*worker.Worker, error) {
	return worker.New(c.registry, c.tasks, append([]worker.Option{worker.WithLogger(c.logger)}, opts...)...)
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}
