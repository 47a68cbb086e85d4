package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"evaliq-attempt-service/internal/config"
	pgmigrations "evaliq-attempt-service/internal/infra/postgres/migrations"
	"evaliq-attempt-service/internal/infra/sqlite"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	switch cfg.StoreDriver() {
	case config.DriverPostgres:
		return runMigrationsWithConfig(ctx, cfg)
	case config.DriverSQLite:
		// Opening the file applies the embedded schema.
		store, err := sqlite.Open(ctx, sqlite.DSN(cfg.Store.SQLitePath))
		if err != nil {
			return err
		}
		log.Printf("sqlite schema ready")
		return store.Close()
	default:
		return fmt.Errorf("store driver %s has no migrations", cfg.StoreDriver())
	}
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("no new migrations")
		return nil
	}
	log.Printf("migrations applied: %s", group)
	return nil
}

func openBun(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}
