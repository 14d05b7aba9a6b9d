package job

import "errors"

// Job errors.
var (
	// ErrNotFound is returned when no job record exists for an id.
	ErrNotFound = errors.New("job: not found")

	// ErrDuplicateID is returned when storing a job whose id is already taken.
	ErrDuplicateID = errors.New("job: duplicate id")

	// ErrInvalidTransition is returned for an illegal status change or an
	// attempt to modify an immutable field of a stored job.
	ErrInvalidTransition = errors.New("job: invalid transition")

	// ErrUnknownTask is returned when a payload names a task that has not
	// been registered.
	ErrUnknownTask = errors.New("job: unknown task")

	// ErrInvalidPayload is returned when task arguments cannot be encoded
	// or decoded.
	ErrInvalidPayload = errors.New("job: invalid payload")

	// ErrTaskPanicked is returned when a task handler panics.
	ErrTaskPanicked = errors.New("job: task panicked")
)
