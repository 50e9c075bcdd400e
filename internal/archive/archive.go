// Package archive keeps a bounded, tiered history of a simulation's turn
// states. The newest turns are held as full states, the next older ones as
// deltas, and everything older survives only inside fixed-interval
// summaries. A threat timeline and per-entity status history are tracked
// alongside and feed the context block injected into outgoing prompts.
//
// An Archive is not safe for concurrent use; callers serialize access per
// session.
package archive

import (
	"sort"
	"unicode/utf8"

	"github.com/stellarlinkco/chronicle/internal/applog"
)

type Archive struct {
	cfg        Config
	compressor Compressor

	current  *ring[TurnRecord]
	recent   *ring[TurnRecord]
	baseline State // full state of the newest RECENT record

	summaries []Summary
	timeline  ThreatTimeline
	history   EntityStatusHistory

	lastTurn         int
	compactedThrough int
}

// New returns an empty archive. cfg must pass Validate.
func New(cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archive{
		cfg:        cfg,
		compressor: NewCompressor(cfg),
		current:    newRing[TurnRecord](cfg.MaxCurrent + 1),
		recent:     newRing[TurnRecord](cfg.MaxRecent + 1),
	}, nil
}

func (a *Archive) Config() Config { return a.cfg }

func (a *Archive) LastTurn() int { return a.lastTurn }

// CompactedThrough is the last turn covered by a summary, 0 if none.
func (a *Archive) CompactedThrough() int { return a.compactedThrough }

// RecordTurn appends one turn. The turn number must be strictly greater than
// every turn recorded before; otherwise an *OutOfOrderTurnError is returned
// and the archive is left untouched. A turn more than MaxTurnGap past the
// last one is refused the same way with a *TurnGapError.
func (a *Archive) RecordTurn(turn int, full State, delta Delta) error {
	if turn <= a.lastTurn {
		return &OutOfOrderTurnError{Turn: turn, Last: a.lastTurn}
	}
	if turn-a.lastTurn > a.cfg.MaxTurnGap {
		return &TurnGapError{Turn: turn, Last: a.lastTurn, Max: a.cfg.MaxTurnGap}
	}

	full = full.Clone()
	var prev State
	if newest, ok := a.newestCurrent(); ok {
		prev = newest.State
	}

	notes := TurnNotes{
		Events:    a.extractEvents(full, delta),
		Resources: extractResources(prev, full, delta),
	}

	if threat, ok := extractThreat(full, delta); ok {
		a.timeline.Append(turn, threat)
	}
	statuses := extractEntities(full, delta)
	for _, id := range sortedIDs(statuses) {
		a.history.Observe(id, turn, statuses[id])
		notes.Entities = append(notes.Entities, id)
	}

	a.current.push(TurnRecord{Turn: turn, Tier: TierCurrent, State: full, Notes: notes})
	a.lastTurn = turn

	for a.lastTurn >= a.compactedThrough+a.cfg.ArchiveInterval {
		a.compactNext()
	}
	a.age()
	a.timeline.Cull(a.cfg.TimelineCap, a.compactedThrough)
	a.history.Cull(a.cfg.TimelineCap, a.compactedThrough)
	return nil
}

// compactNext folds the next ArchiveInterval turns into a summary.
func (a *Archive) compactNext() {
	start := a.compactedThrough + 1
	end := a.compactedThrough + a.cfg.ArchiveInterval

	block := Block{Start: start, End: end, Threat: a.timeline.Range(start, end)}
	observed := make(map[string]struct{})
	for _, r := range a.rawRecords() {
		if r.Turn < start || r.Turn > end {
			continue
		}
		for _, ev := range r.Notes.Events {
			block.Events = append(block.Events, TurnEvent{Turn: r.Turn, Text: ev})
		}
		if r.Notes.Resources != 0 {
			block.Resources = append(block.Resources, ResourceDelta{Turn: r.Turn, Net: r.Notes.Resources})
		}
		for _, id := range r.Notes.Entities {
			observed[id] = struct{}{}
		}
	}
	if len(observed) > 0 {
		block.Entities = make(map[string]State, len(observed))
		for id := range observed {
			if snap, ok := a.history.AsOf(id, end); ok {
				block.Entities[id] = snap.Fields
			}
		}
	}

	summary := a.compressor.Compress(block)
	a.summaries = append(a.summaries, summary)
	a.compactedThrough = end
	applog.Debug("[Archive] compacted block",
		"start", start, "end", end,
		"events", len(summary.MajorEvents), "trend", summary.ThreatTrend)
}

// age demotes CURRENT overflow to deltas and drops RECENT blocks that a
// summary already covers.
func (a *Archive) age() {
	for a.current.len() > a.cfg.MaxCurrent {
		oldest, _ := a.current.popFront()
		a.recent.push(TurnRecord{
			Turn:  oldest.Turn,
			Tier:  TierRecent,
			Delta: Diff(a.baseline, oldest.State),
			Notes: oldest.Notes,
		})
		a.baseline = oldest.State
	}
	for a.recent.len() > a.cfg.MaxRecent {
		dropped := 0
		for dropped < a.cfg.ArchiveInterval {
			front, ok := a.recent.front()
			if !ok || front.Turn > a.compactedThrough {
				break
			}
			a.recent.popFront()
			dropped++
		}
		if dropped == 0 {
			applog.Warn("[Archive] recent tier over capacity with uncompacted turns",
				"recent", a.recent.len(), "compactedThrough", a.compactedThrough)
			return
		}
	}
}

func (a *Archive) newestCurrent() (TurnRecord, bool) {
	if n := a.current.len(); n > 0 {
		return a.current.at(n - 1), true
	}
	return TurnRecord{}, false
}

func (a *Archive) rawRecords() []TurnRecord {
	out := make([]TurnRecord, 0, a.recent.len()+a.current.len())
	out = append(out, a.recent.items()...)
	return append(out, a.current.items()...)
}

func (a *Archive) extractEvents(full State, delta Delta) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(items []string) {
		for _, ev := range items {
			if utf8.RuneCountInString(ev) < a.cfg.MinEventLength {
				continue
			}
			if _, dup := seen[ev]; dup {
				continue
			}
			seen[ev] = struct{}{}
			out = append(out, ev)
		}
	}
	add(full.Texts(FieldEvents))
	add(delta.Set.Texts(FieldEvents))
	return out
}

func extractThreat(full State, delta Delta) (float64, bool) {
	if v, ok := full.Number(FieldThreat); ok {
		return v, true
	}
	return delta.Set.Number(FieldThreat)
}

// extractEntities overlays the delta's entity fields onto the full state's.
func extractEntities(full State, delta Delta) map[string]State {
	out := make(map[string]State)
	merge := func(src State) {
		entities, ok := src.Map(FieldEntities)
		if !ok {
			return
		}
		for id, v := range entities {
			fields, ok := v.AsMap()
			if !ok {
				continue
			}
			dst, ok := out[id]
			if !ok {
				dst = make(State, len(fields))
				out[id] = dst
			}
			for k, fv := range fields {
				dst[k] = fv
			}
		}
	}
	merge(full)
	merge(delta.Set)
	return out
}

// extractResources prefers an explicit resource delta; otherwise it diffs the
// full resource totals against the previous turn.
func extractResources(prev, full State, delta Delta) float64 {
	if res, ok := delta.Set.Map(FieldResources); ok {
		return sumNumbers(res)
	}
	cur, ok := full.Map(FieldResources)
	if !ok || prev == nil {
		return 0
	}
	before, _ := prev.Map(FieldResources)
	return sumNumbers(cur) - sumNumbers(before)
}

func sumNumbers(s State) float64 {
	var total float64
	for _, k := range s.Keys() {
		if v, ok := s.Number(k); ok {
			total += v
		}
	}
	return total
}

func sortedIDs(m map[string]State) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RawRecords returns the raw turn records, oldest first.
func (a *Archive) RawRecords() []TurnRecord {
	return a.rawRecords()
}

func (a *Archive) Summaries() []Summary {
	out := make([]Summary, len(a.summaries))
	copy(out, a.summaries)
	return out
}

func (a *Archive) Timeline() []ThreatReading {
	return a.timeline.Readings()
}

// History returns a copy of every entity's snapshot series.
func (a *Archive) History() map[string][]StatusSnapshot {
	out := make(map[string][]StatusSnapshot)
	for _, id := range a.history.Entities() {
		out[id] = a.history.Snapshots(id)
	}
	return out
}

func (a *Archive) Stats() Stats {
	return Stats{
		LastTurn:         a.lastTurn,
		CompactedThrough: a.compactedThrough,
		Current:          a.current.len(),
		Recent:           a.recent.len(),
		Summaries:        len(a.summaries),
		TimelineLen:      a.timeline.Len(),
		Entities:         len(a.history.Entities()),
	}
}
