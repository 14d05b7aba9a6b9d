// Package logger builds the slog loggers used across jobq.
//
// Loggers write JSON or text to a writer at a configured level and can
// forward warnings and errors to Sentry. Attributes carried by the context,
// such as the id of the job being executed, are added to every record:
//
//	log := logger.New(logger.Config{Level: "debug", Format: "text"}, os.Stderr,
//	    logger.JobIDExtractor(),
//	)
//
//	ctx = logger.WithJobID(ctx, j.ID)
//	log.InfoContext(ctx, "sending mail") // ... job_id=01J...
//
// If SentryDSN is empty, or Sentry fails to initialize, logs go to the
// writer only.
package logger
