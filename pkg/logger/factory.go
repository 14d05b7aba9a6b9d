package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// New creates a logger writing to w. Unknown levels fall back to info.
func New(cfg Config, w io.Writer, extractors ...ContextExtractor) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var out slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		out = slog.NewTextHandler(w, opts)
	} else {
		out = slog.NewJSONHandler(w, opts)
	}
	if err != nil {
		slog.New(out).Warn("invalid log level, using info", slog.String("level", cfg.Level))
	}

	if cfg.SentryDSN == "" {
		return slog.New(NewContextHandler(out, extractors...))
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		EnableLogs:  true,
	}); err != nil {
		slog.New(out).Error("failed to initialize Sentry", slog.String("error", err.Error()))
		return slog.New(NewContextHandler(out, extractors...))
	}

	return slog.New(NewContextHandler(newFanout(out, sentryHandler(cfg.SentryMinLevel)), extractors...))
}

func sentryHandler(minLevel string) slog.Handler {
	logLevel := []slog.Level{slog.LevelWarn, slog.LevelError}
	if lvl, err := ParseLevel(minLevel); err == nil {
		switch lvl {
		case slog.LevelError:
			logLevel = []slog.Level{slog.LevelError}
		case slog.LevelDebug, slog.LevelInfo:
			logLevel = []slog.Level{slog.LevelInfo, slog.LevelWarn, slog.LevelError}
		}
	}

	return sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   logLevel,
	}.NewSentryHandler(context.Background())
}

// NewNope creates a logger that discards everything.
func NewNope() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
