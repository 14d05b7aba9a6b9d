package queue

import (
	"context"
	"errors"

	"github.com/dmitrymomot/jobq/pkg/job"
)

// Store persists job records and enforces the job lifecycle on update.
type Store struct {
	backend Backend
}

// NewStore wraps a backend.
func NewStore(b Backend) *Store {
	return &Store{backend: b}
}

// Put stores a new job record.
func (s *Store) Put(ctx context.Context, j *job.Job) error {
	if j == nil || j.ID == "" {
		return errors.Join(job.ErrInvalidPayload, errors.New("job has no id"))
	}
	return s.backend.PutJob(ctx, j)
}

// Get loads a job record.
func (s *Store) Get(ctx context.Context, jobID string) (*job.Job, error) {
	return s.backend.GetJob(ctx, jobID)
}

// Update atomically applies fn to the stored record. The result must keep
// every immutable field and follow a legal status transition, otherwise
// job.ErrInvalidTransition is returned and nothing is written.
func (s *Store) Update(ctx context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error) {
	return s.backend.UpdateJob(ctx, jobID, func(j *job.Job) error {
		prev := j.Clone()
		if err := fn(j); err != nil {
			return err
		}
		return job.ValidateUpdate(prev, j)
	})
}

// Transition moves a job from one status to another, failing with
// job.ErrInvalidTransition if the stored status is not from.
func (s *Store) Transition(ctx context.Context, jobID string, from, to job.Status, fn func(*job.Job)) (*job.Job, error) {
	return s.Update(ctx, jobID, func(j *job.Job) error {
		if j.Status != from {
			return errors.Join(job.ErrInvalidTransition, errors.New("job is "+string(j.Status)))
		}
		j.Status = to
		if fn != nil {
			fn(j)
		}
		return nil
	})
}

// Delete removes a job record.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.backend.DeleteJob(ctx, jobID)
}
