package test_utils

import (
	"database/sql"
	"testing"

	"github.com/klokku/icalmanager/internal/config"
	"github.com/klokku/icalmanager/internal/database"
)

// NewInMemoryDB creates a new in-memory SQLite database for testing.
// Each database is completely isolated from others.
func NewInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, _, err := database.Open(config.Database{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// SetupTestDB creates a new in-memory SQLite database and applies all migrations
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db := NewInMemoryDB(t)
	if err := database.Migrate(db, database.SQLite); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return db
}
