package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/jobq/pkg/id"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusFinished, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusFinished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Payload references the task to execute and its JSON encoded arguments.
type Payload struct {
	Task string          `json:"task"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Job is a persistent unit of work.
//
// ID, Queue, Title, CreatedAt, Payload and Timeout are fixed once the job
// has been stored.
type Job struct {
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Title     string          `json:"title,omitempty"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Worker    string          `json:"worker,omitempty"`
	Payload   Payload         `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timeout   time.Duration   `json:"timeout,omitempty"`
}

// Option configures a job built by New.
type Option func(*Job)

// WithTitle sets a human readable label shown by admin listings.
func WithTitle(title string) Option {
	return func(j *Job) {
		j.Title = title
	}
}

// WithTimeout bounds the execution time of the job. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.Timeout = d
		}
	}
}

// WithID overrides the generated id.
func WithID(jobID string) Option {
	return func(j *Job) {
		if jobID != "" {
			j.ID = jobID
		}
	}
}

// New builds a queued job for task with args encoded as JSON.
// A nil args value produces an empty argument bundle.
func New(task string, args any, opts ...Option) (*Job, error) {
	if task == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("task name is empty"))
	}

	var raw json.RawMessage
	switch v := args.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
		raw = b
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, errors.Join(ErrInvalidPayload, errors.New("arguments are not valid JSON"))
	}

	j := &Job{
		ID:        id.NewULID(),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    StatusQueued,
		Payload:   Payload{Task: task, Args: raw},
	}
	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload.Args = bytes.Clone(j.Payload.Args)
	c.Result = bytes.Clone(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// ValidateUpdate checks that next is a legal successor of prev: immutable
// fields are unchanged and the status change is allowed.
func ValidateUpdate(prev, next *Job) error {
	switch {
	case prev.ID != next.ID:
		return fmt.Errorf("%w: id is immutable", ErrInvalidTransition)
	case prev.Queue != next.Queue:
		return fmt.Errorf("%w: queue is immutable", ErrInvalidTransition)
	case prev.Title != next.Title:
		return fmt.Errorf("%w: title is immutable", ErrInvalidTransition)
	case !prev.CreatedAt.Equal(next.CreatedAt):
		return fmt.Errorf("%w: created_at is immutable", ErrInvalidTransition)
	case prev.Payload.Task != next.Payload.Task || !bytes.Equal(prev.Payload.Args, next.Payload.Args):
		return fmt.Errorf("%w: payload is immutable", ErrInvalidTransition)
	case prev.Timeout != next.Timeout:
		return fmt.Errorf("%w: timeout is immutable", ErrInvalidTransition)
	case !next.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next.Status)
	case !CanTransition(prev.Status, next.Status):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	return nil
}

// Encode serializes a job record for storage.
func Encode(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a stored job record.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: decode record: %w", err)
	}
	return &j, nil
}
