package jobq

import (
	"log/slog"

	"github.com/dmitrymomot/jobq/pkg/job"
)

// Option configures the client.
type Option func(*Client)

// WithNamespace sets the prefix of every queue name.
// Defaults to "jobq".
func WithNamespace(ns string) Option {
	return func(c *Client) {
		c.namespace = ns
	}
}

// WithLogger sets the client logger. It is handed to workers, the admin
// operations and the built-in test task.
// If nil, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTasks registers tasks.
//
// Example:
//
//	jobq.WithTasks(
//	    job.WithTask[ResizeArgs](&Resize{}),
//	    job.WithResultTask[SumArgs, int](&Sum{}),
//	)
func WithTasks(opts ...job.RegistryOption) Option {
	return func(c *Client) {
		c.taskOpts = append(c.taskOpts, opts...)
	}
}
