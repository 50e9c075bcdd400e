package archive

import (
	"fmt"
	"sort"
	"strings"
)

// Section headers of the injected context block. Consumers match on these
// byte for byte.
const (
	HeaderMajorEvents = "=== MAJOR EVENTS ==="
	HeaderNPCStatus   = "=== NPC STATUS ==="
	HeaderThreatTrend = "=== THREAT TREND ==="
	currentSituation  = "--- CURRENT SITUATION (turn %d) ---"
)

const (
	bullet     = "• "
	emptyEntry = bullet + "(none)"
)

// ShouldInject reports whether turn is an injection window: the first
// compaction turn and every InjectionPeriod turns after it.
func (a *Archive) ShouldInject(turn int) bool {
	first := a.cfg.FirstCompactionTurn()
	return turn >= first && (turn-first)%a.cfg.InjectionPeriod == 0
}

// BuildContext renders the historical context as seen at turn.
func (a *Archive) BuildContext(turn int) string {
	var b strings.Builder

	b.WriteString(HeaderMajorEvents)
	b.WriteByte('\n')
	recent := a.summariesThrough(turn)
	wrote := false
	for _, s := range recent {
		for _, ev := range s.MajorEvents {
			fmt.Fprintf(&b, "%s%s\n", bullet, ev)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString(emptyEntry + "\n")
	}

	b.WriteString(HeaderNPCStatus)
	b.WriteByte('\n')
	status := make(map[string]string)
	for _, s := range recent {
		for id, line := range s.EntityStatus {
			status[id] = line
		}
	}
	for _, id := range a.history.Entities() {
		if snap, ok := a.history.AsOf(id, turn); ok {
			status[id] = snap.Fields.Render()
		}
	}
	if len(status) == 0 {
		b.WriteString(emptyEntry + "\n")
	}
	ids := make([]string, 0, len(status))
	for id := range status {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "%s%s: %s\n", bullet, id, status[id])
	}

	b.WriteString(HeaderThreatTrend)
	b.WriteByte('\n')
	if first, last, ok := a.threatSpan(turn); ok {
		fmt.Fprintf(&b, "%sStarted: %.1f\n", bullet, first)
		fmt.Fprintf(&b, "%sNow: %.1f\n", bullet, last)
		fmt.Fprintf(&b, "%sTrend: %s\n", bullet, classifyTrend(first, last, a.cfg.ThreatEpsilon))
	} else {
		b.WriteString(emptyEntry + "\n")
	}

	fmt.Fprintf(&b, currentSituation, turn)
	return b.String()
}

// Inject prepends the context block to base at injection windows. base is
// always carried through verbatim as the suffix of the result.
func (a *Archive) Inject(turn int, base string) string {
	if !a.ShouldInject(turn) || !a.hasHistory() {
		return base
	}
	return a.BuildContext(turn) + "\n" + base
}

func (a *Archive) hasHistory() bool {
	return len(a.summaries) > 0 || a.timeline.Len() > 0 || a.history.Len() > 0
}

// summariesThrough returns up to ContextSummaries of the newest summaries
// ending at or before turn, oldest first.
func (a *Archive) summariesThrough(turn int) []Summary {
	n := sort.Search(len(a.summaries), func(i int) bool { return a.summaries[i].RangeEnd > turn })
	start := n - a.cfg.ContextSummaries
	if start < 0 {
		start = 0
	}
	return a.summaries[start:n]
}

// threatSpan returns the campaign's first reading and the newest one at or
// before turn. Summaries keep the first reading once the timeline has been
// culled past it.
func (a *Archive) threatSpan(turn int) (first, last float64, ok bool) {
	for _, s := range a.summaries {
		if s.RangeEnd > turn {
			break
		}
		if s.ThreatReadings == 0 {
			continue
		}
		if !ok {
			first, ok = s.ThreatStart, true
		}
		last = s.ThreatEnd
	}
	for _, r := range a.timeline.readings {
		if r.Turn > turn {
			break
		}
		if !ok {
			first, ok = r.Value, true
		}
		last = r.Value
	}
	return first, last, ok
}
