package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations found in fsys (root directory ".").
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetLogger(gooseLogger{db: db})

	if err := goose.UpContext(ctx, db.DB.DB, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB.DB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	db.logger.Info().Int64("version", version).Msg("database migrations applied")
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	db *DB
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.db.logger.Error().Msgf(format, v...)
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.db.logger.Debug().Msgf(format, v...)
}
