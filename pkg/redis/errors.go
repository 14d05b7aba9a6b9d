package redis

import "errors"

var (
	// ErrEmptyConnectionURL is returned by Connect when Config.URL is empty.
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")

	// ErrInvalidURL is returned for a URL that is not redis:// or rediss://.
	ErrInvalidURL = errors.New("redis: invalid connection URL")

	// ErrConnectionFailed is returned once every connection attempt failed.
	ErrConnectionFailed = errors.New("redis: failed to establish connection")

	// ErrHealthcheckFailed wraps a failed ping.
	ErrHealthcheckFailed = errors.New("redis: healthcheck failed")
)
