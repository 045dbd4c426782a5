package command

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/infrastructure/database"
	_ "github.com/fleetworks/adbfleet-core/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	cmd, err := NewCommand("dev-1", TypeStart, map[string]any{"url": "https://example.com"}, 0)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}

	if err := repo.Create(ctx, cmd); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.DeviceID != "dev-1" || got.Type != TypeStart {
		t.Errorf("got = %+v, want device dev-1 type start", got)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %v, want pending", got.Status)
	}
	if got.Params["url"] != "https://example.com" {
		t.Errorf("params = %v, want url round-tripped", got.Params)
	}
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetByID(context.Background(), "cmd-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	cmd, err := NewCommand("dev-1", TypeStop, nil, 5)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if err := repo.Create(ctx, cmd); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	done := time.Now().UTC().Truncate(time.Second)
	cmd.Status = StatusFailed
	cmd.Attempts = 3
	cmd.Error = "command retries exhausted"
	cmd.CompletedAt = &done

	if err := repo.Update(ctx, cmd); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 3 {
		t.Errorf("got status=%v attempts=%d, want failed/3", got.Status, got.Attempts)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, done)
	}
}

func TestSQLiteRepository_ListRecent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		cmd, err := NewCommand("dev-1", TypeStatus, nil, 0)
		if err != nil {
			t.Fatalf("NewCommand() error = %v", err)
		}
		cmd.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, cmd); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	other, err := NewCommand("dev-2", TypeStatus, nil, 0)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.ListRecent(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListRecent() returned %d commands, want 3", len(got))
	}
	// Most recently enqueued first.
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("results not ordered most recent first: %v before %v",
				got[i-1].CreatedAt, got[i].CreatedAt)
		}
	}

	limited, err := repo.ListRecent(ctx, "dev-1", 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRecent(limit=2) returned %d commands, want 2", len(limited))
	}
}
