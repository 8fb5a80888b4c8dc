package app

import (
	"context"
	"errors"
	"fmt"

	"pegkeeper/internal/storage"
)

// Migrate applies pending schema migrations and prints the resulting version.
func (a *App) Migrate(ctx context.Context) error {
	dsn := a.Config.Database.DSN
	if dsn == "" {
		return errors.New("database.dsn not configured")
	}

	if err := storage.Migrate(ctx, dsn); err != nil {
		return err
	}

	version, err := storage.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("version", version).Msg("database schema up to date")
	fmt.Fprintf(a.Out, "schema version: %d\n", version)
	return nil
}
