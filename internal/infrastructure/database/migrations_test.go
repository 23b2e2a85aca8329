package database

import (
	"context"
	"embed"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// The migrated table is usable.
	if _, err := db.ExecContext(ctx,
		"INSERT INTO items (id, name) VALUES (?, ?)", "i1", "probe"); err != nil {
		t.Fatalf("inserting into migrated table: %v", err)
	}

	// Re-running is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting applied migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("applied migrations = %d, want 1", count)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}

	// The table is gone and the record removed.
	if _, err := db.ExecContext(ctx, "INSERT INTO items (id, name) VALUES ('x', 'y')"); err == nil {
		t.Error("dropped table still accepts inserts")
	}
	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting applied migrations: %v", err)
	}
	if count != 0 {
		t.Errorf("applied migrations = %d, want 0", count)
	}
}
