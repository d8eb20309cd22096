package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// Migrate creates the migration tables if needed and applies every pending
// migration. It returns the applied group, which is zero when the schema was
// already up to date.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	return migrator.Migrate(ctx)
}
