package db

import "errors"

var (
	// ErrEmptyConnectionURL is returned by Connect when Config.URL is empty.
	ErrEmptyConnectionURL = errors.New("db: empty connection URL")

	// ErrInvalidConfig wraps a URL pgxpool cannot parse.
	ErrInvalidConfig = errors.New("db: invalid database configuration")

	// ErrConnectionFailed is returned once every connection attempt failed.
	ErrConnectionFailed = errors.New("db: failed to establish connection")

	ErrHealthcheckFailed = errors.New("db: healthcheck failed")

	// ErrMigrationFailed wraps goose errors from Migrate.
	ErrMigrationFailed = errors.New("db: migration failed")
)
