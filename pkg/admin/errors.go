package admin

import "errors"

var (
	// ErrNotFound is returned when a job does not exist or is no longer
	// pending. The cause is joined to it.
	ErrNotFound = errors.New("admin: not found")

	// ErrValidation is returned for malformed action parameters.
	ErrValidation = errors.New("admin: validation error")
)
