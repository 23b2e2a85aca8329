package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// msPerSecond converts the configured busy timeout to milliseconds.
	msPerSecond = 1000

	connectTimeout  = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
)

// Config describes how to open the audit database.
type Config struct {
	// Path is the SQLite file; its directory is created on demand.
	Path string

	// WALMode enables write-ahead logging so reads proceed during
	// writes.
	WALMode bool

	// BusyTimeout is the maximum time in seconds to wait for a
	// database lock.
	BusyTimeout int
}

// DB wraps sql.DB with migration support and lifecycle management.
type DB struct {
	*sql.DB
	path string
}

// Open creates the database file if needed and verifies connectivity.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite supports one writer; keep the pool at a single
	// connection rather than queueing on the file lock.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Owner-only permissions; the file may not exist until the first
	// write, in which case this is a no-op.
	_ = os.Chmod(cfg.Path, filePermissions)

	return db, nil
}

// Close releases the connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }

// HealthCheck runs a trivial query to confirm the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
