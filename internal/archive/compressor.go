package archive

import (
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/zeebo/blake3"
)

// TurnEvent is one filtered event string tagged with its turn.
type TurnEvent struct {
	Turn int
	Text string
}

// ResourceDelta is the net resource change reported for one turn.
type ResourceDelta struct {
	Turn int
	Net  float64
}

// Block is the input to one compaction: everything the archive knows about
// turns Start..End inclusive.
type Block struct {
	Start     int
	End       int
	Events    []TurnEvent
	Entities  map[string]State
	Threat    []ThreatReading
	Resources []ResourceDelta
}

// Compressor folds a Block into a Summary. It is deterministic and makes no
// external calls.
type Compressor struct {
	MaxEvents int
	Epsilon   float64
}

func NewCompressor(cfg Config) Compressor {
	return Compressor{MaxEvents: cfg.MaxSummaryEvents, Epsilon: cfg.ThreatEpsilon}
}

func (c Compressor) Compress(b Block) Summary {
	s := Summary{
		RangeStart:  b.Start,
		RangeEnd:    b.End,
		ThreatTrend: TrendStable,
	}

	seen := make(map[string]struct{}, len(b.Events))
	for _, ev := range b.Events {
		if len(s.MajorEvents) == c.MaxEvents {
			break
		}
		if _, dup := seen[ev.Text]; dup {
			continue
		}
		seen[ev.Text] = struct{}{}
		s.MajorEvents = append(s.MajorEvents, ev.Text)
	}

	if len(b.Entities) > 0 {
		s.EntityStatus = make(map[string]string, len(b.Entities))
		for id, fields := range b.Entities {
			s.EntityStatus[id] = fields.Render()
		}
	}

	if n := len(b.Threat); n > 0 {
		s.ThreatStart = b.Threat[0].Value
		s.ThreatEnd = b.Threat[n-1].Value
		s.ThreatTrend = classifyTrend(s.ThreatStart, s.ThreatEnd, c.Epsilon)
		s.ThreatReadings = n
	}

	var net float64
	for _, r := range b.Resources {
		net += r.Net
	}
	s.ResourceNote = resourceNote(net)
	return s
}

func classifyTrend(first, last, epsilon float64) Trend {
	switch diff := last - first; {
	case diff > epsilon:
		return TrendRising
	case diff < -epsilon:
		return TrendFalling
	default:
		return TrendStable
	}
}

func resourceNote(net float64) string {
	// Anything that rounds to 0.0 reads as steady.
	if math.Abs(net) < 0.05 {
		return "resources held steady"
	}
	if net > 0 {
		return fmt.Sprintf("resources rose by %+.1f", net)
	}
	return fmt.Sprintf("resources fell by %+.1f", net)
}

// Digest is the hex blake3 hash of the summary's deterministic encoding.
func (s Summary) Digest() (string, error) {
	data, err := encMode.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("digest summary %d-%d: %w", s.RangeStart, s.RangeEnd, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether two summaries are field-wise identical. Nil and
// empty collections compare equal.
func (s Summary) Equal(o Summary) bool {
	return s.RangeStart == o.RangeStart && s.RangeEnd == o.RangeEnd &&
		s.ThreatTrend == o.ThreatTrend && s.ThreatStart == o.ThreatStart &&
		s.ThreatEnd == o.ThreatEnd && s.ThreatReadings == o.ThreatReadings &&
		s.ResourceNote == o.ResourceNote &&
		slices.Equal(s.MajorEvents, o.MajorEvents) && maps.Equal(s.EntityStatus, o.EntityStatus)
}
