package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kashguard/go-threshold-signing/internal/config"
	"github.com/kashguard/go-threshold-signing/migrations"

	_ "github.com/lib/pq"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			if err := runMigrations(cmd.Context(), cfg); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		},
	}
}

func runMigrations(ctx context.Context, cfg config.Server) error {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return errors.Wrap(err, "failed to ensure migrations table")
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return errors.Wrap(err, "failed to read embedded migrations")
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists)
		if err != nil {
			return errors.Wrapf(err, "failed to check migration %s", name)
		}
		if exists {
			continue
		}

		script, err := migrations.FS.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", name)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "failed to begin transaction for %s", name)
		}
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to apply migration %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", name)
		}

		log.Info().Str("migration", name).Msg("Applied migration")
		applied++
	}

	log.Info().Int("applied", applied).Int("total", len(names)).Msg("Migrations up to date")
	return nil
}
