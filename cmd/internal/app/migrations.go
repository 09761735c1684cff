package app

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded goose migrations to databaseURL.
func Migrate(ctx context.Context, databaseURL string, log Logger) error {
	if databaseURL == "" {
		return fmt.Errorf("%w: migrate requires APP_DATABASE_URL", ErrConfig)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("migrate: dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		log.Error("db.migrate.fail", "err", err)
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("db.migrate.done")
	return nil
}
