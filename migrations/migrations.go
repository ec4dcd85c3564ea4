// Package migrations embeds the reportq schema and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// TableName is the goose version table.
const TableName = "reportq_migrations"

// Up applies every pending migration to db. driverName is the database/sql
// driver the db was opened with ("sqlite" or "pgx").
func Up(db *sql.DB, driverName string, logger *slog.Logger) error {
	dialect, err := dialectFor(driverName)
	if err != nil {
		return err
	}
	if logger == nil {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(&slogGooseLogger{logger: logger})
	}
	goose.SetBaseFS(files)
	goose.SetTableName(TableName)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect %s: %w", dialect, err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func dialectFor(driverName string) (string, error) {
	switch driverName {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "pgx", "postgres":
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driverName)
}

// slogGooseLogger forwards goose output to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "migrations")
}
