package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobq/internal/config"
	"github.com/dmitrymomot/jobq/pkg/admin"
	"github.com/dmitrymomot/jobq/pkg/backend/badger"
	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/backend/postgres"
	redisbackend "github.com/dmitrymomot/jobq/pkg/backend/redis"
	"github.com/dmitrymomot/jobq/pkg/db"
	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/redis"
	"github.com/dmitrymomot/jobq/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// env is everything a command needs once the configuration is loaded.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	backend  queue.Backend
	registry *queue.Registry
	tasks    *job.Registry
	admin    *admin.Service
	otel     *telemetry.Provider
	closers  []func() error
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setup loads the configuration and opens the backend.
func (rt *runtime) setup(ctx context.Context) (*env, error) {
	cfg, err := rt.loadConfig()
	if err != nil {
		return nil, err
	}
	log := rt.newLogger(cfg)

	e := &env{cfg: cfg, logger: log}
	e.otel, err = telemetry.New(ctx, cfg.Telemetry, rt.telemetry...)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		return e.otel.Shutdown(ctx)
	})
	e.otel.Install()

	if rt.backend != nil {
		e.backend = rt.backend
	} else if err := e.openBackend(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.registry, err = queue.NewRegistry(e.backend, queue.WithNamespace(cfg.Namespace))
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.tasks = job.NewRegistry(job.WithTestTask(log))
	e.admin = admin.NewService(e.registry, admin.WithLogger(log))
	return e, nil
}

func (e *env) openBackend(ctx context.Context) error {
	switch e.cfg.Backend {
	case config.BackendRedis:
		client, err := redis.Connect(ctx, e.cfg.Redis.Config)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		e.backend = redisbackend.New(client,
			redisbackend.WithKeyPrefix(e.cfg.Redis.KeyPrefix),
			redisbackend.WithLogger(e.logger),
		)

	case config.BackendPostgres:
		pool, err := db.Connect(ctx, e.cfg.Database.Config)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		e.closers = append(e.closers, func() error {
			pool.Close()
			return nil
		})
		b := postgres.New(pool,
			postgres.WithLogger(e.logger),
			postgres.WithPollInterval(e.cfg.Database.PollInterval),
		)
		if e.cfg.Database.AutoMigrate {
			if err := b.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		e.backend = b

	case config.BackendBadger:
		opts := []badger.Option{badger.WithLogger(e.logger)}
		if e.cfg.Badger.InMemory {
			opts = append(opts, badger.WithInMemory())
		}
		b, err := badger.Open(e.cfg.Badger.Dir, opts...)
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		e.closers = append(e.closers, b.Close)
		e.backend = b

	case config.BackendMemory:
		e.backend = memory.New()

	default:
		return fmt.Errorf("unknown backend %q", e.cfg.Backend)
	}
	return nil
}
