package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// executor is the type-erased form of a registered task.
type executor interface {
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry maps task names to their handlers.
// It is safe for concurrent use.
type Registry struct {
	executors map[string]executor
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the given tasks registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{executors: make(map[string]executor)}
	r.Register(opts...)
	return r
}

// RegistryOption registers one task into a Registry.
type RegistryOption func(*Registry)

// Register adds tasks to the registry. A task registered under an existing
// name replaces the previous one.
func (r *Registry) Register(opts ...RegistryOption) {
	for _, opt := range opts {
		opt(r)
	}
}

func (r *Registry) set(name string, e executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

// Has reports whether a task is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.executors))
}

// Execute runs the task referenced by p and returns its encoded result.
// A panicking task is reported as ErrTaskPanicked.
func (r *Registry) Execute(ctx context.Context, p Payload) (result json.RawMessage, err error) {
	r.mu.RLock()
	e, ok := r.executors[p.Task]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, p.Task)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, rec)
		}
	}()

	return e.Execute(ctx, p.Args)
}

// WithTask registers a task using structural typing.
// The argument type P is taken from the Handle method signature.
//
// Example:
//
//	job.WithTask[SendWelcomeArgs](&SendWelcome{})
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) RegistryOption {
	return func(r *Registry) {
		r.set(task.Name(), &taskWrapper[P, T]{task: task})
	}
}

// WithResultTask registers a task whose Handle method returns a value.
// The value is JSON encoded and stored as the job result.
//
// Example:
//
//	job.WithResultTask[ResizeArgs, ResizeResult](&Resize{})
func WithResultTask[P, R any, T interface {
	Name() string
	Handle(context.Context, P) (R, error)
}](task T) RegistryOption {
	return func(r *Registry) {
		r.set(task.Name(), &resultTaskWrapper[P, R, T]{task: task})
	}
}

type taskWrapper[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}] struct {
	task T
}

func (w *taskWrapper[P, T]) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	args, err := decodeArgs[P](raw)
	if err != nil {
		return nil, err
	}
	return nil, w.task.Handle(ctx, args)
}

type resultTaskWrapper[P, R any, T interface {
	Name() string
	Handle(context.Context, P) (R, error)
}] struct {
	task T
}

func (w *resultTaskWrapper[P, R, T]) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	args, err := decodeArgs[P](raw)
	if err != nil {
		return nil, err
	}
	res, err := w.task.Handle(ctx, args)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("job: encode result: %w", err)
	}
	return out, nil
}

func decodeArgs[P any](raw json.RawMessage) (P, error) {
	var args P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return args, errors.Join(ErrInvalidPayload, err)
		}
	}
	return args, nil
}

// TestTaskName is the name of the built-in no-op task used to check that
// workers are picking up jobs.
const TestTaskName = "test"

// TestArgs are the arguments of the built-in test task.
type TestArgs struct {
	Message string `json:"message"`
}

// TestTask logs its message and does nothing else.
type TestTask struct {
	Logger *slog.Logger
}

func (t *TestTask) Name() string { return TestTaskName }

func (t *TestTask) Handle(ctx context.Context, args TestArgs) error {
	if t.Logger != nil {
		t.Logger.InfoContext(ctx, args.Message)
	}
	return nil
}

// WithTestTask registers the built-in test task.
func WithTestTask(logger *slog.Logger) RegistryOption {
	return WithTask[TestArgs](&TestTask{Logger: logger})
}
