// Package db opens and migrates the PostgreSQL pool used by the postgres
// queue backend.
//
// Connect retries with a growing pause so that workers started together with
// the database do not fail on the first refused connection. Migrate applies
// embedded goose migrations.
//
//	pool, err := db.Connect(ctx, db.Config{URL: os.Getenv("DATABASE_URL")})
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := db.Migrate(ctx, pool, migrations, "jobq_migrations", log); err != nil {
//		return err
//	}
package db
