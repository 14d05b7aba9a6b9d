// Package cli implements the jobq command.
//
//	jobq worker [--burst] [QUEUES]
//	jobq list [QUEUES]
//	jobq show ID
//	jobq cancel ID
//	jobq clear [QUEUES]
//	jobq test [QUEUES]
//	jobq serve [--workers N] [--queue Q]...
//
// Errors are printed as a single line on stderr and exit with status 1.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobq/internal/config"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/telemetry"
)

const usage = `Manage background jobs

Usage:

    jobq worker [--burst] [QUEUES]

        Start a worker that fetches jobs from queues and executes
        them. If no queue names are given then the worker listens
        to the default queue, this is equivalent to

            jobq worker default

        If queue names are given then the worker listens to those
        queues and only those:

            jobq worker my-custom-queue

        Hence, if you want the worker to listen to the default queue
        and some others then you must list the default queue explicitly:

            jobq worker default my-custom-queue

        If the --burst option is given then the worker will exit
        as soon as all its queues are empty.

    jobq list [QUEUES]

        List currently enqueued jobs from the given queues. If no queue
        names are given then the jobs from all queues are listed.

    jobq show ID

        Show details about a specific job.

    jobq cancel ID

        Cancel a specific job. Jobs can only be canceled while they are
        enqueued. Once a worker has started executing a job it cannot
        be aborted anymore.

    jobq clear [QUEUES]

        Cancel all jobs on the given queues. If no queue names are
        given then ALL queues are cleared.

    jobq test [QUEUES]

        Enqueue a test job. If no queue names are given then the job is
        added to the default queue. If queue names are given then a
        separate test job is added to each of the queues.

    jobq serve [--workers N] [--queue Q]... [--addr ADDR]

        Serve the job action API over HTTP, optionally with embedded
        workers and the configured schedules.

Global flags:

    --config PATH        YAML configuration file (env JOBQ_CONFIG)
    --backend NAME       redis, postgres, badger or memory
    --namespace NAME     prefix of every queue name
    --redis-url URL      Redis connection URL
    --database-url URL   Postgres connection URL
    --badger-dir DIR     Badger data directory
    --log-level LEVEL    debug, info, warn or error
    --log-format FORMAT  json or text
`

// userError is printed verbatim.
type userError struct {
	msg string
}

func (e *userError) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

// Option configures Execute.
type Option func(*runtime)

// WithStdout redirects command output. Default: os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(r *runtime) {
		if w != nil {
			r.stdout = w
		}
	}
}

// WithStderr redirects errors and logs. Default: os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(r *runtime) {
		if w != nil {
			r.stderr = w
		}
	}
}

// WithBackend makes every command use b instead of opening the configured
// backend. The caller keeps ownership of b.
func WithBackend(b queue.Backend) Option {
	return func(r *runtime) {
		r.backend = b
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(r *runtime) {
		r.logger = l
	}
}

// WithTelemetry passes opts to the telemetry provider, e.g. to replace the
// OTLP exporters.
func WithTelemetry(opts ...telemetry.Option) Option {
	return func(r *runtime) {
		r.telemetry = append(r.telemetry, opts...)
	}
}

// runtime is the state shared by the commands of one invocation.
type runtime struct {
	stdout    io.Writer
	stderr    io.Writer
	backend   queue.Backend
	logger    *slog.Logger
	telemetry []telemetry.Option
	flags     globalFlags
}

type globalFlags struct {
	configPath  string
	backend     string
	namespace   string
	redisURL    string
	databaseURL string
	badgerDir   string
	logLevel    string
	logFormat   string
}

// Execute runs the command line args and returns the process exit status.
func Execute(ctx context.Context, args []string, opts ...Option) int {
	rt := &runtime{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(rt)
	}

	root := rt.rootCommand()
	root.SetArgs(args)
	root.SetOut(rt.stdout)
	root.SetErr(rt.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		msg := err.Error()
		var ue *userError
		if !errors.As(err, &ue) {
			msg = strings.ReplaceAll(msg, "\n", "; ")
		}
		fmt.Fprintln(rt.stderr, msg)
		return 1
	}
	return 0
}

func (rt *runtime) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobq",
		Short:         "Manage background jobs",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_, err := io.WriteString(cmd.OutOrStdout(), usage)
				return err
			}
			return userErrorf("Unknown command %q", args[0])
		},
	}
	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		if cmd == cmd.Root() {
			_, _ = io.WriteString(cmd.OutOrStdout(), usage)
			return
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nUsage:\n  %s\n", cmd.Short, cmd.UseLine())
	})
	root.CompletionOptions.DisableDefaultCmd = true

	f := root.PersistentFlags()
	f.StringVar(&rt.flags.configPath, "config", os.Getenv("JOBQ_CONFIG"), "YAML configuration file")
	f.StringVar(&rt.flags.backend, "backend", "", "queue backend: "+strings.Join(config.Backends, ", "))
	f.StringVar(&rt.flags.namespace, "namespace", "", "prefix of every queue name")
	f.StringVar(&rt.flags.redisURL, "redis-url", "", "Redis connection URL")
	f.StringVar(&rt.flags.databaseURL, "database-url", "", "Postgres connection URL")
	f.StringVar(&rt.flags.badgerDir, "badger-dir", "", "Badger data directory")
	f.StringVar(&rt.flags.logLevel, "log-level", "", "log level")
	f.StringVar(&rt.flags.logFormat, "log-format", "", "log format: json or text")

	root.AddCommand(
		rt.workerCommand(),
		rt.listCommand(),
		rt.showCommand(),
		rt.cancelCommand(),
		rt.clearCommand(),
		rt.testCommand(),
		rt.serveCommand(),
	)
	return root
}

// loadConfig layers flags on top of the environment and the config file.
func (rt *runtime) loadConfig() (config.Config, error) {
	cfg, err := config.Load(rt.flags.configPath)
	if err != nil {
		return cfg, err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Backend, rt.flags.backend)
	set(&cfg.Namespace, rt.flags.namespace)
	set(&cfg.Redis.URL, rt.flags.redisURL)
	set(&cfg.Database.URL, rt.flags.databaseURL)
	set(&cfg.Badger.Dir, rt.flags.badgerDir)
	set(&cfg.Log.Level, rt.flags.logLevel)
	set(&cfg.Log.Format, rt.flags.logFormat)

	if rt.backend != nil {
		cfg.Backend = config.BackendMemory
	}
	return cfg, cfg.Validate()
}

func (rt *runtime) newLogger(cfg config.Config) *slog.Logger {
	if rt.logger != nil {
		return rt.logger
	}
	return logger.New(cfg.Log, rt.stderr,
		logger.JobIDExtractor(),
		logger.QueueExtractor(),
		logger.WorkerExtractor(),
	)
}
