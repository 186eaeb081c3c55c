package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/campus-companion/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "state", "companion.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLitePutGetDelete(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "dev-1", KeyProfile); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, "dev-1", KeyProfile, []byte(`{"name":"Maya"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, "dev-1", KeyProfile, []byte(`{"name":"Sam"}`)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, err := s.Get(ctx, "dev-1", KeyProfile)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"name":"Sam"}` {
		t.Fatalf("expected last write to win, got %s", got)
	}

	if _, err := s.Get(ctx, "dev-2", KeyProfile); !errors.Is(err, ErrNotFound) {
		t.Fatalf("devices must not share state, got %v", err)
	}

	if err := s.Delete(ctx, "dev-1", KeyProfile); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "dev-1", KeyProfile); err != nil {
		t.Fatalf("deleting a missing key must succeed: %v", err)
	}
	if _, err := s.Get(ctx, "dev-1", KeyProfile); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPlaybookStateSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "companion.db")
	ctx := context.Background()

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	want := domain.PlaybookState{
		PlaybookID: "overwhelmed",
		Stage:      domain.StageTriage,
		Context: map[string]any{
			"focus":  "academics",
			"turns":  float64(2),
			"nested": map[string]any{"deadline": "friday"},
		},
	}
	if err := ForDevice(first, "dev-1", nil).Save(ctx, KeyPlaybook, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved, err := first.Get(ctx, "dev-1", KeyPlaybook)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	reloaded, err := second.Get(ctx, "dev-1", KeyPlaybook)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(reloaded) != string(saved) {
		t.Fatalf("raw state changed across reopen:\n%s\n%s", saved, reloaded)
	}

	var got domain.PlaybookState
	if !ForDevice(second, "dev-1", nil).Load(ctx, KeyPlaybook, &got) {
		t.Fatal("expected state to load")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("playbook state mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceLoadTreatsMalformedAsAbsent(t *testing.T) {
	t.Parallel()

	repo := NewMemory()
	ctx := context.Background()
	if err := repo.Put(ctx, "dev-1", KeyMemory, []byte(`{"lastTopic":`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var m domain.Memory
	if ForDevice(repo, "dev-1", nil).Load(ctx, KeyMemory, &m) {
		t.Fatal("malformed JSON must be treated as absent")
	}
	if ForDevice(repo, "dev-1", nil).Load(ctx, KeyProfile, &m) {
		t.Fatal("missing key must be treated as absent")
	}
}
