package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config selects the log output.
type Config struct {
	// debug, info, warn or error. Default: info.
	Level string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
	// json or text. Default: json.
	Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`

	SentryDSN         string `env:"SENTRY_DSN" yaml:"sentry_dsn"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"production" yaml:"sentry_environment"`
	// Lowest level stored in Sentry as a log entry. Errors always create
	// issues. Default: warn.
	SentryMinLevel string `env:"SENTRY_MIN_LEVEL" envDefault:"warn" yaml:"sentry_min_level"`
}

// ParseLevel converts a level name to a slog.Level. An empty name is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}
