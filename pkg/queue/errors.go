package queue

import "errors"

var (
	// ErrEmpty is returned by dequeue operations when no job id is pending.
	ErrEmpty = errors.New("queue: empty")

	// ErrInvalidName is returned for queue names that cannot be used.
	ErrInvalidName = errors.New("queue: invalid name")

	// ErrNoQueues is returned when a dequeue is asked to watch no queue.
	ErrNoQueues = errors.New("queue: no queues given")
)
