package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobq/internal/server"
	"github.com/dmitrymomot/jobq/pkg/health"
	"github.com/dmitrymomot/jobq/pkg/scheduler"
	"github.com/dmitrymomot/jobq/pkg/worker"
)

func (rt *runtime) workerCommand() *cobra.Command {
	var burst bool

	cmd := &cobra.Command{
		Use:   "worker [--burst] [QUEUES]",
		Short: "Start a worker",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ctx := cmd.Context()
			if err := health.Verify(ctx, e.checks(), health.WithLogger(e.logger)); err != nil {
				return err
			}

			w, err := e.newWorker("", burst, args)
			if err != nil {
				return err
			}
			return w.Work(ctx)
		}),
	}
	cmd.Flags().BoolVar(&burst, "burst", false, "exit as soon as all queues are empty")
	return cmd
}

func (rt *runtime) serveCommand() *cobra.Command {
	var (
		workers int
		queues  []string
		addr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job action API",
		Args:  cobra.NoArgs,
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, _ []string) error {
			ctx := cmd.Context()
			if err := health.Verify(ctx, e.checks(), health.WithLogger(e.logger)); err != nil {
				return err
			}
			if addr == "" {
				addr = e.cfg.HTTP.Addr
			}

			opts := []server.Option{
				server.WithAddress(addr),
				server.WithAPIToken(e.cfg.HTTP.APIToken),
				server.WithLogger(e.logger),
				server.WithShutdownTimeout(e.cfg.HTTP.ShutdownTimeout),
			}
			for name, check := range e.checks() {
				opts = append(opts, server.WithHealthCheck(name, check))
			}
			if e.otel.TracingEnabled() || e.otel.MetricsEnabled() {
				opts = append(opts, server.WithMiddleware(otelhttp.NewMiddleware("jobq.http",
					otelhttp.WithTracerProvider(e.otel.TracerProvider()),
					otelhttp.WithMeterProvider(e.otel.MeterProvider()),
				)))
			}
			srv := server.New(opts...)

			var runners []func(ctx context.Context) error
			for i := range workers {
				name := ""
				if e.cfg.Worker.Name != "" {
					name = fmt.Sprintf("%s-%d", e.cfg.Worker.Name, i+1)
				}
				w, err := e.newWorker(name, false, queues)
				if err != nil {
					return err
				}
				runners = append(runners, w.Work)
			}
			if len(e.cfg.Schedules) > 0 {
				s, err := scheduler.New(e.registry, e.cfg.Schedules, scheduler.WithLogger(e.logger))
				if err != nil {
					return err
				}
				runners = append(runners, s.Run)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, e.admin) })
			for _, run := range runners {
				g.Go(func() error { return run(gctx) })
			}

			e.logger.InfoContext(ctx, "serving",
				slog.String("address", addr),
				slog.Int("workers", workers),
				slog.Int("schedules", len(e.cfg.Schedules)),
			)
			return g.Wait()
		}),
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of embedded workers")
	cmd.Flags().StringArrayVar(&queues, "queue", nil, "queue watched by the embedded workers (repeatable)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from JOBQ_HTTP_ADDR)")
	return cmd
}

func (e *env) checks() health.Checks {
	return health.Checks{"backend": e.backend.Ping}
}

// newWorker builds a worker from the configuration. An empty name falls back
// to the configured one.
func (e *env) newWorker(name string, burst bool, queues []string) (*worker.Worker, error) {
	if name == "" {
		name = e.cfg.Worker.Name
	}
	opts := []worker.Option{
		worker.WithQueues(queues...),
		worker.WithBurst(burst),
		worker.WithName(name),
		worker.WithPollTimeout(e.cfg.Worker.PollTimeout),
		worker.WithErrorBackoff(e.cfg.Worker.ErrorBackoff),
		worker.WithLogger(e.logger),
	}
	if e.otel.TracingEnabled() {
		opts = append(opts, worker.WithMiddleware(worker.TracingWithTracer(e.otel.Tracer(worker.InstrumentationName))))
	}
	if e.otel.MetricsEnabled() {
		opts = append(opts, worker.WithMiddleware(worker.MetricsWithMeter(e.otel.Meter(worker.InstrumentationName))))
	}
	return worker.New(e.registry, e.tasks, opts...)
}
