// Package audit records API mutations: who wrote which attribute or
// invoked which command, with what payload, and how it ended.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionWrite   = "write"
	ActionCommand = "command"
)

// Entry is one recorded mutation. Outcome is "ok" or the error kind
// returned to the caller; Detail carries the error message on failure.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	Device    string    `json:"device"`
	Target    string    `json:"target"`
	Value     string    `json:"value,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects entries for listing.
type Filter struct {
	Device string // optional: exact device name
	UserID string // optional: exact user
	Action string // optional: write or command
	Limit  int    // default 50, max 200
	Offset int
}

// Recorder is the write side of the trail, consumed by the API layer.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Repository persists audit entries in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an audit repository over an open database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one entry, generating ID and timestamp when absent.
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, user_id, session_id, action, device, target, value, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, nullable(e.SessionID), e.Action, e.Device, e.Target,
		nullable(e.Value), e.Outcome, nullable(e.Detail),
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	query := `SELECT id, user_id, session_id, action, device, target, value, outcome, detail, created_at
	          FROM audit_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sessionID, value, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &e.Action, &e.Device,
			&e.Target, &value, &e.Outcome, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.SessionID = sessionID.String
		e.Value = value.String
		e.Detail = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// nullable maps empty strings to NULL for optional TEXT columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
