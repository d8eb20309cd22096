package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozy-creator/genjobs/cmd/genjobs/cmdutil"
	"github.com/cozy-creator/genjobs/internal/db"
	"github.com/cozy-creator/genjobs/internal/db/migrations"

	"github.com/uptrace/bun/migrate"

	"github.com/spf13/cobra"
)

var flagKeys = map[string]string{
	"db.driver": "db-driver",
	"db.dsn":    "db-dsn",
	"db.debug":  "db-debug",
}

var Cmd = &cobra.Command{
	Use:   "db",
	Short: "Utility for history database management",
}

func init() {
	pflags := Cmd.PersistentFlags()
	pflags.String("db-driver", "", "Database driver: 'sqlite', 'libsql' or 'pg'")
	pflags.String("db-dsn", "file:genjobs.db?cache=shared", "Database DSN (Connection URL or Path)")
	pflags.Bool("db-debug", false, "Log every query")

	setupMigrationCmd(Cmd)
}

// withMigrator connects to the configured database for the duration of fn.
func withMigrator(fn func(ctx context.Context, migrator *migrate.Migrator, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := cmdutil.BindFlags(cmd.Flags(), flagKeys); err != nil {
			return err
		}

		cfg, err := cmdutil.LoadConfig()
		if err != nil {
			return err
		}
		if !cfg.HistoryEnabled() {
			return errors.New("db.driver is not set")
		}

		ctx := cmd.Context()
		driver, err := db.NewConnection(ctx, cfg)
		if err != nil {
			return err
		}
		defer driver.Close()

		return fn(ctx, migrate.NewMigrator(driver.GetDB(), migrations.Migrations), args)
	}
}

func setupMigrationCmd(cmd *cobra.Command) {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Utility for handling database migrations",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "create migration tables",
		RunE: withMigrator(func(ctx context.Context, migrator *migrate.Migrator, _ []string) error {
			return migrator.Init(ctx)
		}),
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate database",
		RunE: withMigrator(func(ctx context.Context, migrator *migrate.Migrator, _ []string) error {
			if err := migrator.Lock(ctx); err != nil {
				return err
			}
			defer migrator.Unlock(ctx) //nolint:errcheck

			group, err := migrator.Migrate(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				fmt.Printf("there are no new migrations to run (database is up to date)\n")
				return nil
			}
			fmt.Printf("migrated to %s\n", group)
			return nil
		}),
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "rollback the last migration group",
		RunE: withMigrator(func(ctx context.Context, migrator *migrate.Migrator, _ []string) error {
			if err := migrator.Lock(ctx); err != nil {
				return err
			}
			defer migrator.Unlock(ctx) //nolint:errcheck

			group, err := migrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				fmt.Printf("there are no groups to roll back\n")
				return nil
			}
			fmt.Printf("rolled back %s\n", group)
			return nil
		}),
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the database",
		RunE: withMigrator(func(ctx context.Context, migrator *migrate.Migrator, _ []string) error {
			if err := migrator.Unlock(ctx); err != nil {
				return err
			}
			fmt.Printf("unlocked\n")
			return nil
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of the migrations",
		RunE: withMigrator(func(ctx context.Context, migrator *migrate.Migrator, _ []string) error {
			status, err := migrator.MigrationsWithStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("migrations: %s\n", status)
			fmt.Printf("unapplied migrations: %s\n", status.Unapplied())
			fmt.Printf("last migration group: %s\n", status.LastGroup())
			return nil
		}),
	}

	migrationCmd.AddCommand(
		initCmd,
		migrateCmd,
		rollbackCmd,
		unlockCmd,
		statusCmd,
	)

	cmd.AddCommand(migrationCmd)
}
