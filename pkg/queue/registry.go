package queue

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultNamespace prefixes queue names when none is configured.
	DefaultNamespace = "jobq"

	// DefaultQueue is the queue used when none is named.
	DefaultQueue = "default"

	// MaxNameLength bounds queue names and namespaces.
	MaxNameLength = 255
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateName checks that name can be used as a queue name or namespace.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	case !validName.MatchString(name):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Registry resolves queue names within one namespace.
// Create one per process and pass it to the components that need it.
type Registry struct {
	backend   Backend
	store     *Store
	namespace string
	prefix    string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNamespace sets the prefix under which queues are stored.
// Default: "jobq".
func WithNamespace(ns string) RegistryOption {
	return func(r *Registry) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// NewRegistry creates a registry on top of b.
func NewRegistry(b Backend, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		backend:   b,
		store:     NewStore(b),
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := ValidateName(r.namespace); err != nil {
		return nil, fmt.Errorf("namespace: %w", err)
	}
	r.prefix = r.namespace + ":"

	return r, nil
}

// Namespace returns the registry namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Store returns the job store shared by all queues of the registry.
func (r *Registry) Store() *Store { return r.store }

// Backend returns the underlying backend.
func (r *Registry) Backend() Backend { return r.backend }

// Queue returns a handle for name without registering it.
func (r *Registry) Queue(name string) (*Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return r.handle(name), nil
}

// GetOrCreate returns a handle for name and makes sure the queue is
// registered, so that it shows up in All even while empty.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (*Queue, error) {
	q, err := r.Queue(name)
	if err != nil {
		return nil, err
	}
	if err := r.backend.AddQueue(ctx, q.key); err != nil {
		return nil, err
	}
	return q, nil
}

// All returns every registered queue of the namespace, empty ones included,
// sorted by name.
func (r *Registry) All(ctx context.Context) ([]*Queue, error) {
	keys, err := r.backend.Queues(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, r.prefix); ok && name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	queues := make([]*Queue, 0, len(names))
	for _, name := range names {
		queues = append(queues, r.handle(name))
	}
	return queues, nil
}

// Resolve returns handles for names, or every registered queue when names
// is empty. Lookups never register a queue.
func (r *Registry) Resolve(ctx context.Context, names []string) ([]*Queue, error) {
	if len(names) == 0 {
		return r.All(ctx)
	}

	queues := make([]*Queue, 0, len(names))
	for _, name := range names {
		q, err := r.Queue(name)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// Remove empties the queue and unregisters it.
func (r *Registry) Remove(ctx context.Context, name string) error {
	q, err := r.Queue(name)
	if err != nil {
		return err
	}
	if _, err := q.Empty(ctx); err != nil {
		return err
	}
	return r.backend.RemoveQueue(ctx, q.key)
}

// RemoveNamePrefix strips the namespace prefix from an internal queue name.
// Names without the prefix are returned unchanged.
func (r *Registry) RemoveNamePrefix(name string) string {
	return strings.TrimPrefix(name, r.prefix)
}

// Owns reports whether the internal queue name belongs to the registry's
// namespace. Job records are shared by all namespaces of a backend.
func (r *Registry) Owns(name string) bool {
	rest, ok := strings.CutPrefix(name, r.prefix)
	return ok && rest != ""
}

// DequeueAny pops the first available id from queues, checked in the given
// order. A positive timeout waits for an id to arrive; otherwise the call
// returns ErrEmpty immediately when every queue is empty.
func (r *Registry) DequeueAny(ctx context.Context, queues []*Queue, timeout time.Duration) (*Queue, string, error) {
	if len(queues) == 0 {
		return nil, "", ErrNoQueues
	}

	keys := make([]string, len(queues))
	byKey := make(map[string]*Queue, len(queues))
	for i, q := range queues {
		keys[i] = q.key
		byKey[q.key] = q
	}

	var (
		key, jobID string
		err        error
	)
	if timeout > 0 {
		key, jobID, err = r.backend.BlockingPop(ctx, keys, timeout)
	} else {
		key, jobID, err = r.backend.Pop(ctx, keys)
	}
	if err != nil {
		return nil, "", err
	}

	q, ok := byKey[key]
	if !ok {
		q = r.handle(r.RemoveNamePrefix(key))
	}
	return q, jobID, nil
}

func (r *Registry) handle(name string) *Queue {
	return &Queue{
		backend: r.backend,
		store:   r.store,
		name:    name,
		key:     r.prefix + name,
	}
}
