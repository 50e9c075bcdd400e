package archive

import (
	"fmt"
	"sort"
)

// LoadStatus says whether a stored archive was restored and, if not, why.
type LoadStatus int

const (
	LoadOK LoadStatus = iota
	// LoadMissing: nothing was ever saved under the id.
	LoadMissing
	// LoadMalformed: the stored rows cannot be reassembled.
	LoadMalformed
	// LoadLayoutMismatch: the rows were saved under a different tier layout.
	LoadLayoutMismatch
	// LoadFailed: the store could not be read; the rows may be intact.
	LoadFailed
)

func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadMissing:
		return "missing"
	case LoadMalformed:
		return "malformed"
	case LoadLayoutMismatch:
		return "layout mismatch"
	case LoadFailed:
		return "unreadable"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

// Snapshot is the complete persisted form of an archive.
type Snapshot struct {
	LastTurn         int
	CompactedThrough int
	Baseline         State
	Records          []TurnRecord
	Summaries        []Summary
	Timeline         []ThreatReading
	History          map[string][]StatusSnapshot
}

func (a *Archive) Snapshot() Snapshot {
	return Snapshot{
		LastTurn:         a.lastTurn,
		CompactedThrough: a.compactedThrough,
		Baseline:         a.baseline.Clone(),
		Records:          a.rawRecords(),
		Summaries:        a.Summaries(),
		Timeline:         a.Timeline(),
		History:          a.History(),
	}
}

// Restore rebuilds an archive from a snapshot. Snapshots that could not have
// been produced by RecordTurn under cfg are rejected with an error matching
// ErrMalformedState.
func Restore(cfg Config, s Snapshot) (*Archive, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := checkSnapshot(cfg, s); err != nil {
		return nil, err
	}

	a.lastTurn = s.LastTurn
	a.compactedThrough = s.CompactedThrough
	a.baseline = s.Baseline.Clone()
	for _, r := range s.Records {
		switch r.Tier {
		case TierCurrent:
			a.current.push(r)
		case TierRecent:
			a.recent.push(r)
		}
	}
	a.summaries = append(a.summaries, s.Summaries...)
	for _, r := range s.Timeline {
		a.timeline.Append(r.Turn, r.Value)
	}
	for id, snaps := range s.History {
		for _, snap := range snaps {
			a.history.restore(id, snap)
		}
	}
	return a, nil
}

func checkSnapshot(cfg Config, s Snapshot) error {
	interval := cfg.ArchiveInterval
	if s.LastTurn < 0 {
		return Malformed("negative last turn %d", s.LastTurn)
	}
	if want := s.LastTurn / interval * interval; s.CompactedThrough != want {
		return Malformed("compacted through %d, expected %d for last turn %d", s.CompactedThrough, want, s.LastTurn)
	}
	if want := s.CompactedThrough / interval; len(s.Summaries) != want {
		return Malformed("%d summaries, expected %d", len(s.Summaries), want)
	}
	for i, sum := range s.Summaries {
		start := i*interval + 1
		if sum.RangeStart != start || sum.RangeEnd != start+interval-1 {
			return Malformed("summary %d covers %d-%d, expected %d-%d", i, sum.RangeStart, sum.RangeEnd, start, start+interval-1)
		}
	}

	if s.LastTurn > 0 && len(s.Records) == 0 {
		return Malformed("no raw records for last turn %d", s.LastTurn)
	}
	var current, recent int
	for i, r := range s.Records {
		if i > 0 && r.Turn <= s.Records[i-1].Turn {
			return Malformed("raw records out of order at turn %d", r.Turn)
		}
		switch r.Tier {
		case TierRecent:
			if current > 0 {
				return Malformed("recent record %d follows a current record", r.Turn)
			}
			recent++
		case TierCurrent:
			current++
		default:
			return Malformed("raw record %d has tier %s", r.Turn, r.Tier)
		}
	}
	if current > cfg.MaxCurrent || recent > cfg.MaxRecent {
		return Malformed("tier occupancy current=%d recent=%d exceeds limits", current, recent)
	}
	if n := len(s.Records); n > 0 && s.Records[n-1].Turn != s.LastTurn {
		return Malformed("newest raw record is turn %d, last turn is %d", s.Records[n-1].Turn, s.LastTurn)
	}

	if !sort.SliceIsSorted(s.Timeline, func(i, j int) bool { return s.Timeline[i].Turn < s.Timeline[j].Turn }) {
		return Malformed("threat timeline out of order")
	}
	for id, snaps := range s.History {
		for i := 1; i < len(snaps); i++ {
			if snaps[i].Turn <= snaps[i-1].Turn {
				return Malformed("status history for %q out of order", id)
			}
		}
	}
	return nil
}

// Equal reports whether two snapshots describe the same archive. Nil and
// empty collections compare equal.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.LastTurn != o.LastTurn || s.CompactedThrough != o.CompactedThrough || !s.Baseline.Equal(o.Baseline) {
		return false
	}
	if len(s.Records) != len(o.Records) || len(s.Summaries) != len(o.Summaries) ||
		len(s.Timeline) != len(o.Timeline) || len(s.History) != len(o.History) {
		return false
	}
	for i := range s.Records {
		if !s.Records[i].Equal(o.Records[i]) {
			return false
		}
	}
	for i := range s.Summaries {
		if !s.Summaries[i].Equal(o.Summaries[i]) {
			return false
		}
	}
	for i := range s.Timeline {
		if s.Timeline[i] != o.Timeline[i] {
			return false
		}
	}
	for id, snaps := range s.History {
		other, ok := o.History[id]
		if !ok || len(other) != len(snaps) {
			return false
		}
		for i := range snaps {
			if snaps[i].Turn != other[i].Turn || !snaps[i].Fields.Equal(other[i].Fields) {
				return false
			}
		}
	}
	return true
}
