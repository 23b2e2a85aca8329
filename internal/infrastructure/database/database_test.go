package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("creates nested directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "a", "b", "test.db")
		db, err := Open(Config{Path: dbPath, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		db.Close()
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantTitle   string
		wantDown    bool
		wantErr     bool
	}{
		{"20260301_120000_create_audit_entries.up.sql", "20260301_120000", "create_audit_entries", false, false},
		{"20260301_120000_create_audit_entries.down.sql", "20260301_120000", "create_audit_entries", true, false},
		{"bad.sql", "", "", false, true},
		{"20260301_120000_missing_direction.sql", "", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, title, down, err := parseMigrationName(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMigrationName: %v", err)
			}
			if version != tt.wantVersion || title != tt.wantTitle || down != tt.wantDown {
				t.Errorf("got (%q, %q, %v)", version, title, down)
			}
		})
	}
}
