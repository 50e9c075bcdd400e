package archive

import "sort"

// ThreatTimeline is the ordered series of threat readings, one per turn that
// reported one.
type ThreatTimeline struct {
	readings []ThreatReading
}

func (t *ThreatTimeline) Append(turn int, value float64) {
	t.readings = append(t.readings, ThreatReading{Turn: turn, Value: value})
}

func (t *ThreatTimeline) Len() int { return len(t.readings) }

func (t *ThreatTimeline) First() (ThreatReading, bool) {
	if len(t.readings) == 0 {
		return ThreatReading{}, false
	}
	return t.readings[0], true
}

func (t *ThreatTimeline) Last() (ThreatReading, bool) {
	if len(t.readings) == 0 {
		return ThreatReading{}, false
	}
	return t.readings[len(t.readings)-1], true
}

// Readings returns a copy of the series.
func (t *ThreatTimeline) Readings() []ThreatReading {
	out := make([]ThreatReading, len(t.readings))
	copy(out, t.readings)
	return out
}

// Range returns the readings with start <= turn <= end.
func (t *ThreatTimeline) Range(start, end int) []ThreatReading {
	var out []ThreatReading
	for _, r := range t.readings {
		if r.Turn >= start && r.Turn <= end {
			out = append(out, r)
		}
	}
	return out
}

// Cull drops the oldest readings beyond limit. Readings after
// compactedThrough have not been folded into a summary and are kept.
func (t *ThreatTimeline) Cull(limit, compactedThrough int) {
	drop := 0
	for len(t.readings)-drop > limit && t.readings[drop].Turn <= compactedThrough {
		drop++
	}
	if drop == 0 {
		return
	}
	n := copy(t.readings, t.readings[drop:])
	clear(t.readings[n:])
	t.readings = t.readings[:n]
}

// EntityStatusHistory keeps, per entity, the snapshots at which its status
// fields changed.
type EntityStatusHistory struct {
	series map[string][]StatusSnapshot
}

// Observe records fields for entity at turn unless they equal the entity's
// latest snapshot. It reports whether a snapshot was appended.
func (h *EntityStatusHistory) Observe(entity string, turn int, fields State) bool {
	if h.series == nil {
		h.series = make(map[string][]StatusSnapshot)
	}
	snaps := h.series[entity]
	if n := len(snaps); n > 0 && snaps[n-1].Fields.Equal(fields) {
		return false
	}
	h.series[entity] = append(snaps, StatusSnapshot{Turn: turn, Fields: fields.Clone()})
	return true
}

// Entities returns the tracked entity ids in sorted order.
func (h *EntityStatusHistory) Entities() []string {
	ids := make([]string, 0, len(h.series))
	for id := range h.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *EntityStatusHistory) Latest(entity string) (StatusSnapshot, bool) {
	snaps := h.series[entity]
	if len(snaps) == 0 {
		return StatusSnapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

// AsOf returns the entity's latest snapshot taken at or before turn.
func (h *EntityStatusHistory) AsOf(entity string, turn int) (StatusSnapshot, bool) {
	snaps := h.series[entity]
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Turn <= turn {
			return snaps[i], true
		}
	}
	return StatusSnapshot{}, false
}

// Snapshots returns a copy of the entity's series.
func (h *EntityStatusHistory) Snapshots(entity string) []StatusSnapshot {
	snaps := h.series[entity]
	out := make([]StatusSnapshot, len(snaps))
	copy(out, snaps)
	return out
}

func (h *EntityStatusHistory) Len() int {
	total := 0
	for _, snaps := range h.series {
		total += len(snaps)
	}
	return total
}

// Cull applies the timeline policy to every entity independently.
func (h *EntityStatusHistory) Cull(limit, compactedThrough int) {
	for id, snaps := range h.series {
		drop := 0
		for len(snaps)-drop > limit && snaps[drop].Turn <= compactedThrough {
			drop++
		}
		if drop == 0 {
			continue
		}
		n := copy(snaps, snaps[drop:])
		clear(snaps[n:])
		h.series[id] = snaps[:n]
	}
}

func (h *EntityStatusHistory) restore(entity string, snap StatusSnapshot) {
	if h.series == nil {
		h.series = make(map[string][]StatusSnapshot)
	}
	h.series[entity] = append(h.series[entity], snap)
}
