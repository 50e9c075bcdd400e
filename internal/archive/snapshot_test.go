package archive

import (
	"errors"
	"testing"
)

func TestRestoreContinuesRecording(t *testing.T) {
	a := newTestArchive(t)
	recordRange(t, a, 1, 37)

	restored, err := Restore(a.Config(), a.Snapshot())
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if !restored.Snapshot().Equal(a.Snapshot()) {
		t.Fatal("restored snapshot differs")
	}

	recordRange(t, a, 38, 55)
	recordRange(t, restored, 38, 55)
	if !restored.Snapshot().Equal(a.Snapshot()) {
		t.Fatal("restored archive diverged after further turns")
	}
	if restored.BuildContext(50) != a.BuildContext(50) {
		t.Fatal("restored context differs")
	}
}

func TestRestoreRejectsBrokenSnapshots(t *testing.T) {
	a := newTestArchive(t)
	recordRange(t, a, 1, 23)

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"missing summary", func(s *Snapshot) { s.Summaries = s.Summaries[:1] }},
		{"wrong compaction mark", func(s *Snapshot) { s.CompactedThrough = 10 }},
		{"summary gap", func(s *Snapshot) { s.Summaries[1].RangeStart = 12 }},
		{"records out of order", func(s *Snapshot) {
			s.Records[0], s.Records[1] = s.Records[1], s.Records[0]
		}},
		{"recent after current", func(s *Snapshot) { s.Records[len(s.Records)-1].Tier = TierRecent }},
		{"last turn mismatch", func(s *Snapshot) { s.LastTurn = 24 }},
		{"no records", func(s *Snapshot) { s.Records = nil }},
		{"timeline out of order", func(s *Snapshot) {
			s.Timeline[0], s.Timeline[1] = s.Timeline[1], s.Timeline[0]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := a.Snapshot()
			tt.mutate(&snap)
			if _, err := Restore(a.Config(), snap); !errors.Is(err, ErrMalformedState) {
				t.Fatalf("expected ErrMalformedState, got %v", err)
			}
		})
	}
}
