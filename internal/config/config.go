// Package config loads the jobq command configuration.
//
// Values come from three layers, later ones winning:
//
//  1. environment variables (with the defaults in the envDefault tags)
//  2. an optional YAML file
//  3. command line flags
//
// Schedules can only be set in the YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/jobq/pkg/db"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/redis"
	"github.com/dmitrymomot/jobq/pkg/scheduler"
	"github.com/dmitrymomot/jobq/pkg/telemetry"
)

// Supported backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// Backends lists the accepted values of Config.Backend.
var Backends = []string{BackendRedis, BackendPostgres, BackendBadger, BackendMemory}

// ErrInvalidConfig is returned by Validate and Load.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the complete command configuration.
type Config struct {
	// redis, postgres, badger or memory. Default: redis.
	Backend string `env:"JOBQ_BACKEND" envDefault:"redis" yaml:"backend"`
	// Prefix of every queue name. Default: jobq.
	Namespace string `env:"JOBQ_NAMESPACE" envDefault:"jobq" yaml:"namespace"`

	Redis    RedisConfig   `yaml:"redis"`
	Database DBConfig      `yaml:"database"`
	Badger   BadgerConfig  `yaml:"badger"`
	Log      logger.Config `yaml:"log"`
	HTTP     HTTPConfig    `yaml:"http"`
	Worker   WorkerConfig  `yaml:"worker"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	Schedules []scheduler.Entry `env:"-" yaml:"schedules"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	redis.Config `yaml:",inline"`
	// Prefix of every Redis key. Default: jobq:.
	KeyPrefix string `env:"JOBQ_REDIS_KEY_PREFIX" envDefault:"jobq:" yaml:"key_prefix"`
}

// DBConfig configures the Postgres backend.
type DBConfig struct {
	db.Config `yaml:",inline"`
	// Apply the embedded migrations on startup. Default: true.
	AutoMigrate bool `env:"JOBQ_DATABASE_AUTO_MIGRATE" envDefault:"true" yaml:"auto_migrate"`
	// Fallback poll interval of blocking pops. Default: 5s.
	PollInterval time.Duration `env:"JOBQ_DATABASE_POLL_INTERVAL" envDefault:"5s" yaml:"poll_interval"`
}

// BadgerConfig configures the embedded Badger backend.
type BadgerConfig struct {
	// Default: ./data/jobq
	Dir      string `env:"JOBQ_BADGER_DIR" envDefault:"./data/jobq" yaml:"dir"`
	InMemory bool   `env:"JOBQ_BADGER_IN_MEMORY" yaml:"in_memory"`
}

// HTTPConfig configures the action API server of the serve command.
type HTTPConfig struct {
	// Default: :8080
	Addr string `env:"JOBQ_HTTP_ADDR" envDefault:":8080" yaml:"addr"`
	// Required on every action request when set.
	APIToken string `env:"JOBQ_API_TOKEN" yaml:"api_token"`
	// Default: 30s
	ShutdownTimeout time.Duration `env:"JOBQ_HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
}

// WorkerConfig configures workers.
type WorkerConfig struct {
	// Default: hostname plus a random suffix.
	Name string `env:"JOBQ_WORKER_NAME" yaml:"name"`
	// Default: 5s
	PollTimeout time.Duration `env:"JOBQ_WORKER_POLL_TIMEOUT" envDefault:"5s" yaml:"poll_timeout"`
	// Default: 1s
	ErrorBackoff time.Duration `env:"JOBQ_WORKER_ERROR_BACKOFF" envDefault:"1s" yaml:"error_backoff"`
}

// Load reads the environment and, when path is not empty, the YAML file at
// path on top of it. The result is not validated so that flags can still
// be applied; call Validate afterwards.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	var cfg Config

	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.Join(ErrInvalidConfig, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Join(ErrInvalidConfig, fmt.Errorf("parse %s: %w", path, err))
		}
	}

	return cfg, nil
}

// Validate checks the values that cannot be corrected with a default.
func (c Config) Validate() error {
	var errs []error

	if !slices.Contains(Backends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend %q is not one of %v", c.Backend, Backends))
	}
	if err := queue.ValidateName(c.Namespace); err != nil {
		errs = append(errs, fmt.Errorf("namespace: %w", err))
	}
	switch c.Backend {
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			errs = append(errs, errors.New("badger dir is required unless in_memory is set"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}
