package store

import (
	"testing"

	"ledshow/internal/scheduler"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and
// returns the store. The database is discarded when the test process
// exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded in schema_migrations.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

// TestMigrationsIdempotent verifies that re-running migrate on an
// already-migrated database is a no-op.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

func TestBoardRoundTrip(t *testing.T) {
	s := newMemStore(t)

	if err := s.SaveBoard("b1", "10.0.0.5"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveBoard("b1", "10.0.0.6"); err != nil { // upsert
		t.Fatalf("save (update): %v", err)
	}

	boards, err := s.LoadBoards()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(boards) != 1 || boards[0].IP != "10.0.0.6" {
		t.Fatalf("expected 1 board with updated ip, got %+v", boards)
	}

	if err := s.DeleteBoard("b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	boards, err = s.LoadBoards()
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(boards) != 0 {
		t.Fatalf("expected 0 boards after delete, got %d", len(boards))
	}
}

func TestGroupRoundTrip(t *testing.T) {
	s := newMemStore(t)

	if err := s.SaveGroup("all", []string{"b1", "b2", "b3"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	groups, err := s.LoadGroups()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Members) != 3 {
		t.Fatalf("expected 1 group with 3 members, got %+v", groups)
	}
}

func TestProgramRoundTrip(t *testing.T) {
	s := newMemStore(t)

	p := &scheduler.Program{
		ID:              "p1",
		Name:            "opener",
		AudioAssetID:    "asset-1",
		AudioDurationMs: 60_000,
		Cues: []scheduler.Cue{
			{OffsetMs: 0, Targets: []string{"b1"}, Payload: scheduler.CuePayload{Kind: scheduler.PayloadBrightness, Brightness: 255}},
		},
		NextProgramID: "p2",
		Transition:    scheduler.Transition{Kind: scheduler.Blackout, DurationMs: 500},
	}
	if err := s.SaveProgram(p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok := s.GetProgram("p1")
	if !ok {
		t.Fatal("expected program to be found")
	}
	if got.Name != p.Name || got.AudioDurationMs != p.AudioDurationMs || len(got.Cues) != 1 {
		t.Fatalf("round-tripped program mismatch: %+v", got)
	}
	if got.Transition.Kind != scheduler.Blackout || got.Transition.DurationMs != 500 {
		t.Fatalf("transition not preserved: %+v", got.Transition)
	}

	if err := s.DeleteProgram("p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetProgram("p1"); ok {
		t.Fatal("expected program to be gone after delete")
	}
}

func TestGetProgramMissingReturnsFalse(t *testing.T) {
	s := newMemStore(t)
	if _, ok := s.GetProgram("ghost"); ok {
		t.Fatal("expected missing program to report false")
	}
}
