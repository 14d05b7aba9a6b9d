// Package scheduler enqueues jobs on cron schedules.
//
// Each [Entry] names a task, its arguments and a target queue. The scheduler
// enqueues one job every time the entry's schedule fires. It does not
// coordinate with other processes: run it in exactly one process per
// namespace or jobs are enqueued once per running scheduler.
//
//	s, err := scheduler.New(registry, []scheduler.Entry{{
//	    Name:  "nightly-report",
//	    Spec:  "0 3 * * *",
//	    Queue: "reports",
//	    Task:  "build_report",
//	}}, scheduler.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	return s.Run(ctx)
//
// Specs use the standard five cron fields or descriptors such as "@hourly"
// and "@every 30m". Times are evaluated in UTC.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

var (
	// ErrInvalidEntry is returned for an entry that cannot be scheduled.
	ErrInvalidEntry = errors.New("scheduler: invalid entry")

	// ErrUnknownEntry is returned by Fire for a name that was not scheduled.
	ErrUnknownEntry = errors.New("scheduler: unknown entry")
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Entry is one periodic job.
type Entry struct {
	Name  string          `yaml:"name" json:"name"`
	Spec  string          `yaml:"spec" json:"spec"`
	Queue string          `yaml:"queue" json:"queue"`
	Task  string          `yaml:"task" json:"task"`
	Title string          `yaml:"title" json:"title"`
	Args  json.RawMessage `yaml:"-" json:"args,omitempty"`
	// ArgsYAML carries arguments written inline in a YAML config file.
	ArgsYAML map[string]any `yaml:"args" json:"-"`
}

type scheduled struct {
	entry    Entry
	schedule cron.Schedule
}

// Scheduler enqueues jobs for a fixed set of entries.
type Scheduler struct {
	registry *queue.Registry
	logger   *slog.Logger
	entries  map[string]*scheduled
	order    []string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates entries and creates a scheduler. An entry without a queue
// uses the default queue and one without a title is titled by its name.
func New(registry *queue.Registry, entries []Entry, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		registry: registry,
		logger:   logger.NewNope(),
		entries:  make(map[string]*scheduled, len(entries)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, e := range entries {
		sc, err := prepare(e)
		if err != nil {
			return nil, err
		}
		if _, ok := s.entries[sc.entry.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidEntry, e.Name)
		}
		s.entries[sc.entry.Name] = sc
		s.order = append(s.order, sc.entry.Name)
	}

	return s, nil
}

func prepare(e Entry) (*scheduled, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}
	if e.Task == "" {
		return nil, fmt.Errorf("%w: %s: missing task", ErrInvalidEntry, e.Name)
	}
	if e.Queue == "" {
		e.Queue = queue.DefaultQueue
	}
	if err := queue.ValidateName(e.Queue); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.Name, err)
	}
	if e.Title == "" {
		e.Title = e.Name
	}
	if len(e.Args) == 0 && e.ArgsYAML != nil {
		raw, err := json.Marshal(e.ArgsYAML)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: args: %w", ErrInvalidEntry, e.Name, err)
		}
		e.Args = raw
	}

	schedule, err := parser.Parse(e.Spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: spec %q: %w", ErrInvalidEntry, e.Name, e.Spec, err)
	}
	return &scheduled{entry: e, schedule: schedule}, nil
}

// Entries returns the scheduled entries in configuration order.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].entry)
	}
	return out
}

// Next returns the first activation of the named entry after t.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, error) {
	sc, ok := s.entries[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}
	return sc.schedule.Next(t.UTC()), nil
}

// Fire enqueues the job of the named entry right away.
func (s *Scheduler) Fire(ctx context.Context, name string) (*job.Job, error) {
	sc, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}

	e := sc.entry
	j, err := job.New(e.Task, e.Args, job.WithTitle(e.Title))
	if err != nil {
		return nil, err
	}
	q, err := s.registry.GetOrCreate(ctx, e.Queue)
	if err != nil {
		return nil, err
	}
	if _, err := q.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Run fires entries on their schedules until ctx is cancelled. Enqueue
// failures are logged and the entry fires again on its next activation.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)

	for _, name := range s.order {
		sc := s.entries[name]
		c.Schedule(sc.schedule, cron.FuncJob(func() {
			j, err := s.Fire(ctx, name)
			if err != nil {
				s.logger.ErrorContext(ctx, "scheduled enqueue failed",
					slog.String("entry", name),
					slog.String("error", err.Error()),
				)
				return
			}
			s.logger.InfoContext(logger.WithJobID(ctx, j.ID), "scheduled job enqueued",
				slog.String("entry", name),
				slog.String("queue", sc.entry.Queue),
			)
		}))
	}

	s.logger.InfoContext(ctx, "scheduler started", slog.Int("entries", len(s.order)))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.InfoContext(context.WithoutCancel(ctx), "scheduler stopped")

	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
