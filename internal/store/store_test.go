package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/chronicle/internal/archive"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "chronicle.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func buildArchive(t *testing.T, turns int) *archive.Archive {
	t.Helper()
	a, err := archive.New(archive.DefaultConfig())
	if err != nil {
		t.Fatalf("archive.New error: %v", err)
	}
	recordTurns(t, a, 1, turns)
	return a
}

func recordTurns(t *testing.T, a *archive.Archive, from, to int) {
	t.Helper()
	for turn := from; turn <= to; turn++ {
		full := archive.State{
			archive.FieldThreat: archive.Number(float64(turn) / 4),
			archive.FieldResources: archive.MapOf(archive.State{
				"food": archive.Number(float64(200 - turn)),
			}),
			archive.FieldEntities: archive.MapOf(archive.State{
				"Scout Rhea": archive.MapOf(archive.State{
					"morale":  archive.Number(float64(60 + turn%7)),
					"fatigue": archive.Number(30),
				}),
			}),
		}
		if turn%4 == 0 {
			full[archive.FieldEvents] = archive.TextList(fmt.Sprintf("Patrol %d returned with news", turn))
		}
		if err := a.RecordTurn(turn, full, archive.Delta{}); err != nil {
			t.Fatalf("RecordTurn(%d) error: %v", turn, err)
		}
	}
}

func countRows(t *testing.T, s *Store, table, sessionID string) int {
	t.Helper()
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
		t.Fatalf("count %s error: %v", table, err)
	}
	return n
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronicle.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()

	for _, table := range []string{"sessions", "turn_records", "archive_summaries", "threat_timeline", "entity_status_history"} {
		var n int
		if err := s2.db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table); err != nil || n != 1 {
			t.Fatalf("table %q missing (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, turns := range []int{3, 10, 37, 120} {
		t.Run(fmt.Sprintf("M=%d", turns), func(t *testing.T) {
			id := fmt.Sprintf("round-trip-%d", turns)
			a := buildArchive(t, turns)
			if err := s.Save(ctx, id, turns, a); err != nil {
				t.Fatalf("Save error: %v", err)
			}

			loaded, status := s.Load(ctx, id, archive.DefaultConfig())
			if status != archive.LoadOK {
				t.Fatalf("Load status %s", status)
			}
			if !loaded.Snapshot().Equal(a.Snapshot()) {
				t.Fatalf("loaded archive differs:\nwant %+v\ngot  %+v", a.Stats(), loaded.Stats())
			}
			if loaded.BuildContext(turns) != a.BuildContext(turns) {
				t.Fatal("loaded context differs")
			}
		})
	}
}

func TestSaveEveryTurnMatchesFinalState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := buildArchive(t, 0)

	for turn := 1; turn <= 45; turn++ {
		recordTurns(t, a, turn, turn)
		if err := s.Save(ctx, "live", turn, a); err != nil {
			t.Fatalf("Save(%d) error: %v", turn, err)
		}
	}
	loaded, status := s.Load(ctx, "live", archive.DefaultConfig())
	if status != archive.LoadOK {
		t.Fatalf("Load status %s", status)
	}
	if !loaded.Snapshot().Equal(a.Snapshot()) {
		t.Fatal("incrementally saved archive differs")
	}
	if got := countRows(t, s, "turn_records", "live"); got != len(a.RawRecords()) {
		t.Fatalf("stored %d turn records, archive holds %d", got, len(a.RawRecords()))
	}
	if got := countRows(t, s, "threat_timeline", "live"); got != len(a.Timeline()) {
		t.Fatalf("stored %d readings, archive holds %d", got, len(a.Timeline()))
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := buildArchive(t, 25)

	if err := s.Save(ctx, "twice", 25, a); err != nil {
		t.Fatalf("first Save error: %v", err)
	}
	counts := map[string]int{}
	tables := []string{"turn_records", "archive_summaries", "threat_timeline", "entity_status_history"}
	for _, table := range tables {
		counts[table] = countRows(t, s, table, "twice")
	}
	if err := s.Save(ctx, "twice", 25, a); err != nil {
		t.Fatalf("second Save error: %v", err)
	}
	for _, table := range tables {
		if got := countRows(t, s, table, "twice"); got != counts[table] {
			t.Fatalf("%s: %d rows after resave, want %d", table, got, counts[table])
		}
	}
}

func TestSaveStaleTurnIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := buildArchive(t, 20)
	if err := s.Save(ctx, "stale", 20, a); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	older := buildArchive(t, 12)
	if err := s.Save(ctx, "stale", 12, older); err != nil {
		t.Fatalf("stale Save error: %v", err)
	}
	loaded, status := s.Load(ctx, "stale", archive.DefaultConfig())
	if status != archive.LoadOK || loaded.LastTurn() != 20 {
		t.Fatalf("stale save overwrote newer state (status=%s)", status)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s := newTestStore(t)
	if a, status := s.Load(context.Background(), "nobody", archive.DefaultConfig()); status != archive.LoadMissing || a != nil {
		t.Fatalf("expected no archive for unknown session, got status %s", status)
	}
}

func TestLoadMalformed(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		sql  string
	}{
		{"corrupt record payload", `UPDATE turn_records SET payload = x'ff00' WHERE session_id = ?`},
		{"digest mismatch", `UPDATE archive_summaries SET digest = 'deadbeef' WHERE session_id = ?`},
		{"unknown tier", `UPDATE turn_records SET tier = 'frozen' WHERE session_id = ?`},
		{"missing summary", `DELETE FROM archive_summaries WHERE session_id = ? AND range_start = 1`},
		{"corrupt status", `UPDATE entity_status_history SET status_fields = x'01ffff' WHERE session_id = ?`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := s.Save(ctx, "broken", 25, buildArchive(t, 25)); err != nil {
				t.Fatalf("Save error: %v", err)
			}
			if _, err := s.db.Exec(tt.sql, "broken"); err != nil {
				t.Fatalf("corrupt rows: %v", err)
			}
			if a, status := s.Load(ctx, "broken", archive.DefaultConfig()); status != archive.LoadMalformed || a != nil {
				t.Fatalf("expected malformed status, got %s", status)
			}
		})
	}
}

func TestLoadLayoutMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "tuned", 25, buildArchive(t, 25)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	cfg := archive.DefaultConfig()
	cfg.ArchiveInterval, cfg.MaxRecent = 5, 5
	if a, status := s.Load(ctx, "tuned", cfg); status != archive.LoadLayoutMismatch || a != nil {
		t.Fatalf("expected layout mismatch, got %s", status)
	}

	// Tunables outside the layout do not matter.
	cfg = archive.DefaultConfig()
	cfg.InjectionPeriod = 3
	if _, status := s.Load(ctx, "tuned", cfg); status != archive.LoadOK {
		t.Fatalf("Load status %s", status)
	}
	if got := countRows(t, s, "sessions", "tuned"); got != 1 {
		t.Fatalf("sessions rows = %d", got)
	}
}

func TestLoadUnrecordedLayoutFallsBackToChecks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "legacy", 25, buildArchive(t, 25)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE sessions SET archive_interval = 0, max_current = 0, max_recent = 0 WHERE session_id = ?`, "legacy"); err != nil {
		t.Fatalf("clear layout: %v", err)
	}
	if _, status := s.Load(ctx, "legacy", archive.DefaultConfig()); status != archive.LoadOK {
		t.Fatalf("Load status %s", status)
	}
}

func TestLoadOnClosedStoreFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "kept", 12, buildArchive(t, 12)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if a, status := s.Load(ctx, "kept", archive.DefaultConfig()); status != archive.LoadFailed || a != nil {
		t.Fatalf("expected failed load, got %s", status)
	}
}

func TestSaveFailureReturnsPersistenceError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err := s.Save(context.Background(), "offline", 1, buildArchive(t, 1))
	if !errors.Is(err, archive.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	var perr *archive.PersistenceError
	if !errors.As(err, &perr) || perr.SessionID != "offline" || perr.Turn != 1 {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "doomed", 30, buildArchive(t, 30)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := s.Save(ctx, "kept", 5, buildArchive(t, 5)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := s.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	for _, table := range []string{"sessions", "turn_records", "archive_summaries", "threat_timeline", "entity_status_history"} {
		if got := countRows(t, s, table, "doomed"); got != 0 {
			t.Fatalf("%s still holds %d rows for deleted session", table, got)
		}
	}
	if _, status := s.Load(ctx, "kept", archive.DefaultConfig()); status != archive.LoadOK {
		t.Fatalf("unrelated session lost: %s", status)
	}
}

func TestSessionsAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	if err := s.Save(ctx, "old", 12, buildArchive(t, 12)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	if err := s.Save(ctx, "fresh", 4, buildArchive(t, 4)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions error: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "fresh" || sessions[1].ID != "old" {
		t.Fatalf("sessions = %+v", sessions)
	}
	if sessions[1].Summaries != 1 || sessions[1].LastTurn != 12 || !sessions[1].LastSavedAt.Equal(base) {
		t.Fatalf("old session info = %+v", sessions[1])
	}

	pruned, err := s.PruneBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d sessions, want 1", pruned)
	}
	if got := countRows(t, s, "turn_records", "old"); got != 0 {
		t.Fatalf("pruned session left %d turn records", got)
	}
}
