package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MigrationsFS is set by the migrations package to embed the SQL files
// into the binary.
var MigrationsFS embed.FS

// MigrationsDir is the directory within MigrationsFS holding the
// migration files; "." when they sit at the root.
var MigrationsDir = "."

// Migration is one schema change, parsed from a
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql file pair.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies pending migrations in version order, each in its own
// transaction. A failed migration is rolled back and stops the run;
// earlier ones stay committed, so re-running after a fix resumes where
// it stopped.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(migrations) == 0 {
		return nil
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	for _, m := range migrations {
		if appliedSet[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recent migration. Development and
// test use only.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	var target *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not found in embedded filesystem", latest.Version)
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
		return fmt.Errorf("executing down SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", target.Version); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.DB.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations parses the embedded filesystem into ordered
// migrations, pairing .up.sql and .down.sql files by version.
func loadMigrations() ([]Migration, error) {
	var empty embed.FS
	if MigrationsFS == empty {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		version, title, down, err := parseMigrationName(name)
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(MigrationsFS, filepath.Join(MigrationsDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: title}
			byVersion[version] = m
		}
		if down {
			m.DownSQL = string(content)
		} else {
			m.UpSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s has no up SQL", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationName splits YYYYMMDD_HHMMSS_description.up.sql into
// its version, title, and direction.
func parseMigrationName(name string) (version, title string, down bool, err error) {
	base := strings.TrimSuffix(name, ".sql")
	switch {
	case strings.HasSuffix(base, ".down"):
		down = true
		base = strings.TrimSuffix(base, ".down")
	case strings.HasSuffix(base, ".up"):
		base = strings.TrimSuffix(base, ".up")
	default:
		return "", "", false, fmt.Errorf("migration %s: expected .up.sql or .down.sql", name)
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 {
		return "", "", false, fmt.Errorf("migration %s: expected YYYYMMDD_HHMMSS_description", name)
	}
	return parts[0] + "_" + parts[1], parts[2], down, nil
}
