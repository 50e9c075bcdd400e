package archive

import (
	"fmt"
	"slices"
)

// Tier is the retention class of a turn.
type Tier uint8

const (
	TierCurrent Tier = iota + 1
	TierRecent
	TierArchived
)

func (t Tier) String() string {
	switch t {
	case TierCurrent:
		return "current"
	case TierRecent:
		return "recent"
	case TierArchived:
		return "archived"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func ParseTier(s string) (Tier, error) {
	switch s {
	case "current":
		return TierCurrent, nil
	case "recent":
		return TierRecent, nil
	case "archived":
		return TierArchived, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// TurnNotes carries what a turn contributes to the next compaction: the
// filtered event strings, the net resource change and the entities it
// reported on.
type TurnNotes struct {
	Events    []string `cbor:"1,keyasint,omitempty"`
	Resources float64  `cbor:"2,keyasint,omitempty"`
	Entities  []string `cbor:"3,keyasint,omitempty"`
}

// TurnRecord is one raw turn. CURRENT records hold the full state, RECENT
// records hold the delta against the previous turn.
type TurnRecord struct {
	Turn  int
	Tier  Tier
	State State
	Delta Delta
	Notes TurnNotes
}

// Trend classifies the direction of the threat reading across a range.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

func ParseTrend(s string) (Trend, error) {
	switch Trend(s) {
	case TrendRising, TrendFalling, TrendStable:
		return Trend(s), nil
	default:
		return "", fmt.Errorf("unknown threat trend %q", s)
	}
}

// Summary is the compacted form of a contiguous block of turns. Summaries
// are immutable once produced.
type Summary struct {
	RangeStart   int               `cbor:"1,keyasint"`
	RangeEnd     int               `cbor:"2,keyasint"`
	MajorEvents  []string          `cbor:"3,keyasint,omitempty"`
	EntityStatus map[string]string `cbor:"4,keyasint,omitempty"`
	ThreatTrend  Trend             `cbor:"5,keyasint"`
	ThreatStart  float64           `cbor:"6,keyasint"`
	ThreatEnd    float64           `cbor:"7,keyasint"`
	ResourceNote string            `cbor:"8,keyasint"`

	// ThreatReadings counts the readings the block held. Zero means
	// ThreatStart and ThreatEnd carry no observation.
	ThreatReadings int `cbor:"9,keyasint,omitempty"`
}

// ThreatReading is one scalar threat value.
type ThreatReading struct {
	Turn  int
	Value float64
}

// StatusSnapshot is an entity's status fields as of a turn.
type StatusSnapshot struct {
	Turn   int
	Fields State
}

// Stats is a compact view of archive occupancy.
type Stats struct {
	LastTurn         int `json:"lastTurn"`
	CompactedThrough int `json:"compactedThrough"`
	Current          int `json:"current"`
	Recent           int `json:"recent"`
	Summaries        int `json:"summaries"`
	TimelineLen      int `json:"timelineLen"`
	Entities         int `json:"entities"`
}

func (n TurnNotes) Equal(o TurnNotes) bool {
	return n.Resources == o.Resources && slices.Equal(n.Events, o.Events) && slices.Equal(n.Entities, o.Entities)
}

func (r TurnRecord) Equal(o TurnRecord) bool {
	return r.Turn == o.Turn && r.Tier == o.Tier &&
		r.State.Equal(o.State) && r.Delta.Equal(o.Delta) && r.Notes.Equal(o.Notes)
}
