package archive

import (
	"bytes"
	"slices"
	"testing"
)

func sampleBlock() Block {
	return Block{
		Start: 11,
		End:   20,
		Events: []TurnEvent{
			{Turn: 12, Text: "Caravan arrives from the south"},
			{Turn: 13, Text: "Caravan arrives from the south"},
			{Turn: 15, Text: "Bandits spotted near the mill"},
		},
		Entities: map[string]State{
			"Scout Rhea": {"morale": Number(65), "fatigue": Number(30)},
			"Warden Oss": {"hp": Number(12), "post": Text("gate")},
		},
		Threat:    []ThreatReading{{Turn: 11, Value: 4}, {Turn: 20, Value: 2.2}},
		Resources: []ResourceDelta{{Turn: 12, Net: 3.5}, {Turn: 18, Net: -1.2}},
	}
}

func TestCompressDeterministic(t *testing.T) {
	c := NewCompressor(DefaultConfig())
	first := c.Compress(sampleBlock())
	second := c.Compress(sampleBlock())

	if !first.Equal(second) {
		t.Fatalf("summaries differ: %+v vs %+v", first, second)
	}
	a, err := EncodePayload(first)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}
	b, err := EncodePayload(second)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoded summaries are not byte-identical")
	}
	da, _ := first.Digest()
	db, _ := second.Digest()
	if da != db || len(da) != 64 {
		t.Fatalf("digests %q and %q", da, db)
	}
}

func TestSummaryEqual(t *testing.T) {
	base := NewCompressor(DefaultConfig()).Compress(sampleBlock())

	renamed := NewCompressor(DefaultConfig()).Compress(sampleBlock())
	renamed.EntityStatus["Warden Oss"] = "hp=1"
	if base.Equal(renamed) {
		t.Fatal("differing entity status compared equal")
	}
	reordered := NewCompressor(DefaultConfig()).Compress(sampleBlock())
	slices.Reverse(reordered.MajorEvents)
	if base.Equal(reordered) {
		t.Fatal("reordered events compared equal")
	}

	empty := Summary{RangeStart: 1, RangeEnd: 10, MajorEvents: []string{}, EntityStatus: map[string]string{}}
	if !empty.Equal(Summary{RangeStart: 1, RangeEnd: 10}) {
		t.Fatal("nil and empty collections should compare equal")
	}
}

func TestCompressFields(t *testing.T) {
	s := NewCompressor(DefaultConfig()).Compress(sampleBlock())

	if s.RangeStart != 11 || s.RangeEnd != 20 {
		t.Fatalf("range %d-%d", s.RangeStart, s.RangeEnd)
	}
	if !slices.Equal(s.MajorEvents, []string{"Caravan arrives from the south", "Bandits spotted near the mill"}) {
		t.Fatalf("major events = %q", s.MajorEvents)
	}
	if got := s.EntityStatus["Warden Oss"]; got != "hp=12, post=gate" {
		t.Fatalf("Warden Oss status = %q", got)
	}
	if s.ThreatTrend != TrendFalling || s.ThreatStart != 4 || s.ThreatEnd != 2.2 {
		t.Fatalf("threat %s %v..%v", s.ThreatTrend, s.ThreatStart, s.ThreatEnd)
	}
	if s.ResourceNote != "resources rose by +2.3" {
		t.Fatalf("resource note = %q", s.ResourceNote)
	}
}

func TestCompressCapsEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSummaryEvents = 2
	b := Block{Start: 1, End: 10}
	for i, text := range []string{"first event of the block", "second event of the block", "third event of the block"} {
		b.Events = append(b.Events, TurnEvent{Turn: i + 1, Text: text})
	}
	s := NewCompressor(cfg).Compress(b)
	if !slices.Equal(s.MajorEvents, []string{"first event of the block", "second event of the block"}) {
		t.Fatalf("major events = %q", s.MajorEvents)
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		first, last float64
		want        Trend
	}{
		{1, 8, TrendRising},
		{8, 1, TrendFalling},
		{3, 3.5, TrendStable},
		{3, 2.5, TrendStable},
		{3, 3.51, TrendRising},
	}
	for _, tt := range tests {
		if got := classifyTrend(tt.first, tt.last, DefaultThreatEpsilon); got != tt.want {
			t.Errorf("classifyTrend(%v, %v) = %s, want %s", tt.first, tt.last, got, tt.want)
		}
	}
}

func TestResourceNote(t *testing.T) {
	tests := []struct {
		net  float64
		want string
	}{
		{0, "resources held steady"},
		{0.04, "resources held steady"},
		{2.26, "resources rose by +2.3"},
		{-9, "resources fell by -9.0"},
	}
	for _, tt := range tests {
		if got := resourceNote(tt.net); got != tt.want {
			t.Errorf("resourceNote(%v) = %q, want %q", tt.net, got, tt.want)
		}
	}
}

func TestCompressEmptyBlock(t *testing.T) {
	s := NewCompressor(DefaultConfig()).Compress(Block{Start: 1, End: 10})
	if s.ThreatTrend != TrendStable || s.ResourceNote != "resources held steady" || len(s.MajorEvents) != 0 {
		t.Fatalf("unexpected summary for empty block: %+v", s)
	}
}
