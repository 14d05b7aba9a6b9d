package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

// CreatedLayout is the format of JobInfo.Created, always in UTC.
const CreatedLayout = "2006-01-02T15:04:05"

// TestJobTitle is the title and message of jobs enqueued by Service.Test.
const TestJobTitle = "A test job"

// JobInfo is the public view of a job.
type JobInfo struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Created string `json:"created"`
	Queue   string `json:"queue"`
}

// Service implements the administrative operations on one queue registry.
type Service struct {
	registry *queue.Registry
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for the audit lines of Clear and Cancel.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a service on top of registry.
func NewService(registry *queue.Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		logger:   logger.NewNope(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the queue registry the service works on.
func (s *Service) Registry() *queue.Registry { return s.registry }

// List returns the pending jobs of the named queues, or of all queues when
// names is empty. Jobs are grouped by queue in the order the queues are
// given, head first within a queue.
func (s *Service) List(ctx context.Context, names []string) ([]JobInfo, error) {
	queues, err := s.registry.Resolve(ctx, names)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	infos := []JobInfo{}
	for _, q := range queues {
		jobs, err := q.Jobs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list queue %q: %w", q.Name(), err)
		}
		for _, j := range jobs {
			infos = append(infos, s.info(j))
		}
	}
	return infos, nil
}

// get loads a job of the service's namespace. Records of other namespaces
// on the same backend are reported as ErrNotFound.
func (s *Service) get(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := s.registry.Store().Get(ctx, jobID)
	if errors.Is(err, job.ErrNotFound) {
		return nil, errors.Join(ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	if !s.registry.Owns(j.Queue) {
		return nil, errors.Join(ErrNotFound, job.ErrNotFound)
	}
	return j, nil
}

// Show returns the job with the given id, whatever its status.
func (s *Service) Show(ctx context.Context, jobID string) (JobInfo, error) {
	if jobID == "" {
		return JobInfo{}, errors.Join(ErrValidation, errors.New("missing job id"))
	}
	j, err := s.get(ctx, jobID)
	if err != nil {
		return JobInfo{}, err
	}
	return s.info(j), nil
}

// Clear empties the named queues, or every queue when names is empty, and
// returns the names of the cleared queues. Jobs already claimed by a worker
// are not affected.
func (s *Service) Clear(ctx context.Context, names []string) ([]string, error) {
	queues, err := s.registry.Resolve(ctx, names)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	cleared := make([]string, 0, len(queues))
	for _, q := range queues {
		if _, err := q.Empty(ctx); err != nil {
			return cleared, fmt.Errorf("clear queue %q: %w", q.Name(), err)
		}
		s.logger.InfoContext(ctx, fmt.Sprintf("Cleared background job queue %q", q.Name()))
		cleared = append(cleared, q.Name())
	}
	return cleared, nil
}

// Cancel takes a pending job off its queue and deletes it. A job a worker
// has already claimed cannot be cancelled and is reported as ErrNotFound.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.Join(ErrValidation, errors.New("missing job id"))
	}

	j, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	store := s.registry.Store()

	q, err := s.registry.Queue(s.registry.RemoveNamePrefix(j.Queue))
	if err != nil {
		return errors.Join(ErrNotFound, err)
	}
	if err := q.Remove(ctx, jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return errors.Join(ErrNotFound, err)
		}
		return err
	}
	// Nobody can pop the id any more, the record is ours to drop.
	if err := store.Delete(ctx, jobID); err != nil && !errors.Is(err, job.ErrNotFound) {
		return err
	}

	s.logger.InfoContext(ctx, "Cancelled background job "+jobID)
	return nil
}

// Test enqueues the built-in test task into each named queue, or into the
// default queue when names is empty.
func (s *Service) Test(ctx context.Context, names []string) ([]*job.Job, error) {
	if len(names) == 0 {
		names = []string{queue.DefaultQueue}
	}

	jobs := make([]*job.Job, 0, len(names))
	for _, name := range names {
		q, err := s.registry.GetOrCreate(ctx, name)
		if err != nil {
			return jobs, errors.Join(ErrValidation, err)
		}
		j, err := job.New(job.TestTaskName, job.TestArgs{Message: TestJobTitle}, job.WithTitle(TestJobTitle))
		if err != nil {
			return jobs, err
		}
		if _, err := q.Enqueue(ctx, j); err != nil {
			return jobs, fmt.Errorf("enqueue test job into %q: %w", name, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// DisplayQueue returns the queue name of j without the namespace prefix.
func (s *Service) DisplayQueue(j *job.Job) string {
	return s.registry.RemoveNamePrefix(j.Queue)
}

func (s *Service) info(j *job.Job) JobInfo {
	return JobInfo{
		ID:      j.ID,
		Title:   j.Title,
		Created: j.CreatedAt.UTC().Format(CreatedLayout),
		Queue:   s.DisplayQueue(j),
	}
}
