package archive

import (
	"slices"
	"testing"
)

func TestThreatTimelineCull(t *testing.T) {
	var tl ThreatTimeline
	for turn := 1; turn <= 30; turn++ {
		tl.Append(turn, float64(turn))
	}

	// Nothing compacted yet: every reading stays.
	tl.Cull(20, 0)
	if tl.Len() != 30 {
		t.Fatalf("culled uncompacted readings: %d left", tl.Len())
	}

	tl.Cull(20, 5)
	if first, _ := tl.First(); tl.Len() != 25 || first.Turn != 6 {
		t.Fatalf("after cull through 5: len %d first %d", tl.Len(), first.Turn)
	}

	tl.Cull(20, 30)
	first, _ := tl.First()
	last, _ := tl.Last()
	if tl.Len() != 20 || first.Turn != 11 || last.Turn != 30 {
		t.Fatalf("after full cull: len %d span %d-%d", tl.Len(), first.Turn, last.Turn)
	}
	if got := tl.Range(15, 17); len(got) != 3 || got[0].Turn != 15 {
		t.Fatalf("Range(15, 17) = %v", got)
	}
}

func TestEntityStatusHistory(t *testing.T) {
	var h EntityStatusHistory
	calm := State{"morale": Number(70)}
	tense := State{"morale": Number(40)}

	if !h.Observe("Scout Rhea", 1, calm) {
		t.Fatal("first observation should append")
	}
	if h.Observe("Scout Rhea", 2, calm.Clone()) {
		t.Fatal("unchanged status should not append")
	}
	h.Observe("Scout Rhea", 5, tense)
	h.Observe("Archer Vel", 3, calm)

	if ids := h.Entities(); !slices.Equal(ids, []string{"Archer Vel", "Scout Rhea"}) {
		t.Fatalf("Entities = %q", ids)
	}
	if snap, ok := h.AsOf("Scout Rhea", 4); !ok || snap.Turn != 1 {
		t.Fatalf("AsOf(4) = %+v, %v", snap, ok)
	}
	if _, ok := h.AsOf("Archer Vel", 2); ok {
		t.Fatal("AsOf before first snapshot should miss")
	}
	if latest, _ := h.Latest("Scout Rhea"); !latest.Fields.Equal(tense) {
		t.Fatalf("Latest = %s", latest.Fields.Render())
	}

	for turn := 6; turn <= 40; turn++ {
		h.Observe("Scout Rhea", turn, State{"morale": Number(float64(turn))})
	}
	h.Cull(20, 30)
	snaps := h.Snapshots("Scout Rhea")
	if len(snaps) != 20 || snaps[0].Turn != 21 {
		t.Fatalf("after cull: %d snapshots starting at %d", len(snaps), snaps[0].Turn)
	}
	if n := len(h.Snapshots("Archer Vel")); n != 1 {
		t.Fatalf("Archer Vel culled to %d", n)
	}
}

func TestRingGrowsAndWraps(t *testing.T) {
	r := newRing[int](2)
	for i := 1; i <= 3; i++ {
		r.push(i)
	}
	if v, _ := r.popFront(); v != 1 {
		t.Fatalf("popFront = %d", v)
	}
	r.push(4)
	r.push(5)
	if got := r.items(); len(got) != 4 || got[0] != 2 || got[3] != 5 {
		t.Fatalf("items = %v", got)
	}
	for r.len() > 0 {
		r.popFront()
	}
	if _, ok := r.front(); ok {
		t.Fatal("front of empty ring")
	}
}
