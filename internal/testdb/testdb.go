// Package testdb opens migrated in-memory SQLite databases for tests.
package testdb

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mohans/reportq/migrations"
)

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite"

// Open returns a fresh, fully migrated in-memory database that is closed
// when the test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A single connection keeps the shared in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)
	if err := migrations.Up(db, DriverName, nil); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
