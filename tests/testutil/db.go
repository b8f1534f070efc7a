// Package testutil prepares the test database and fixtures shared by integration tests.
package testutil

import (
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/storage/database"
)

var tables = []string{
	`"user"`, "password_reset_token", "payment",
	"exam", "registration", "submission", "achievement",
	"activity", "resource", "competition", "news",
}

// TestConfig loads the TEST configuration.
func TestConfig(t *testing.T) *core.Config {
	t.Helper()
	if err := os.Setenv("ENV", "TEST"); err != nil {
		t.Fatalf("setting ENV: %v", err)
	}
	return core.NewConfig()
}

// PrepareDB opens a migrated and empty test database.
// The test is skipped when no database is reachable.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	conf := TestConfig(t)
	database.MaxPingAttempts = 3

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	if _, err = db.Exec("TRUNCATE " + strings.Join(tables, ", ") + " CASCADE"); err != nil {
		t.Fatalf("truncating test database: %v", err)
	}
	return db
}
