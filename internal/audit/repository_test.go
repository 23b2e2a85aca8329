package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openctl/ctrlgraph/internal/infrastructure/database"
	_ "github.com/openctl/ctrlgraph/migrations"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewRepository(db.DB)
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entries := []*Entry{
		{UserID: "user-1", Action: ActionWrite, Device: "lab/sensor/1",
			Target: "temperature", Value: "23.5", Outcome: "ok"},
		{UserID: "user-1", Action: ActionCommand, Device: "lab/motor/1",
			Target: "Start", Outcome: "ok"},
		{UserID: "user-2", Action: ActionWrite, Device: "lab/sensor/1",
			Target: "setpoint", Value: "20", Outcome: "timeout", Detail: "no answer within 10s"},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Errorf("entry not stamped: %+v", e)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}

	byDevice, err := repo.List(ctx, Filter{Device: "lab/sensor/1"})
	if err != nil {
		t.Fatalf("List by device: %v", err)
	}
	if len(byDevice) != 2 {
		t.Errorf("device entries = %d, want 2", len(byDevice))
	}

	byUser, err := repo.List(ctx, Filter{UserID: "user-2"})
	if err != nil {
		t.Fatalf("List by user: %v", err)
	}
	if len(byUser) != 1 {
		t.Fatalf("user entries = %d, want 1", len(byUser))
	}
	if byUser[0].Outcome != "timeout" || byUser[0].Detail == "" {
		t.Errorf("entry = %+v", byUser[0])
	}

	byAction, err := repo.List(ctx, Filter{Action: ActionCommand})
	if err != nil {
		t.Fatalf("List by action: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Target != "Start" {
		t.Errorf("command entries = %+v", byAction)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Record(ctx, &Entry{
			UserID: "user-1", Action: ActionWrite, Device: "d",
			Target: "a", Outcome: "ok",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	limited, err := repo.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("entries = %d, want 2", len(limited))
	}
}
