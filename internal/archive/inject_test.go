package archive

import (
	"strconv"
	"strings"
	"testing"
)

func TestShouldInjectCadence(t *testing.T) {
	a := newTestArchive(t)
	want := map[int]bool{}
	for turn := 10; turn <= 100; turn += 8 {
		want[turn] = true
	}
	for turn := 0; turn <= 100; turn++ {
		if got := a.ShouldInject(turn); got != want[turn] {
			t.Errorf("ShouldInject(%d) = %v, want %v", turn, got, want[turn])
		}
	}
}

// scenarioThreat climbs linearly from 1.0 at turn 1 to 8.0 at turn 20.
func scenarioThreat(turn int) float64 {
	return 1.0 + 7.0*float64(turn-1)/19.0
}

func recordScenario(t *testing.T, a *Archive, through int) {
	t.Helper()
	for turn := 1; turn <= through; turn++ {
		full := turnState(scenarioThreat(turn))
		if turn == 3 {
			full[FieldEvents] = TextList("Scout reports enemy movement")
		}
		if turn == 18 {
			full[FieldEntities] = MapOf(State{
				"Scout Rhea": entityState(map[string]float64{"morale": 65, "fatigue": 30}),
			})
		}
		if err := a.RecordTurn(turn, full, Delta{}); err != nil {
			t.Fatalf("RecordTurn(%d) error: %v", turn, err)
		}
	}
}

func TestInjectScenario(t *testing.T) {
	for _, through := range []int{18, 20} {
		a := newTestArchive(t)
		recordScenario(t, a, through)

		if !a.ShouldInject(18) {
			t.Fatal("expected injection at turn 18")
		}
		out := a.Inject(18, "The party reaches the ridge.")

		for _, want := range []string{
			HeaderMajorEvents + "\n• Scout reports enemy movement\n",
			HeaderNPCStatus + "\n• Scout Rhea: fatigue=30, morale=65\n",
			HeaderThreatTrend + "\n• Started: 1.0\n• Now: 7.3\n• Trend: rising\n",
			"--- CURRENT SITUATION (turn 18) ---\nThe party reaches the ridge.",
		} {
			if !strings.Contains(out, want) {
				t.Fatalf("recorded through %d: output missing %q:\n%s", through, want, out)
			}
		}
	}
}

func TestThreatStartSurvivesTimelineCull(t *testing.T) {
	a := newTestArchive(t)
	for turn := 1; turn <= 34; turn++ {
		if err := a.RecordTurn(turn, turnState(float64(turn)), Delta{}); err != nil {
			t.Fatalf("RecordTurn(%d) error: %v", turn, err)
		}
	}
	if oldest := a.Timeline()[0].Turn; oldest == 1 {
		t.Fatal("timeline should have dropped the turn 1 reading")
	}

	out := a.BuildContext(34)
	want := HeaderThreatTrend + "\n• Started: 1.0\n• Now: 34.0\n• Trend: rising\n"
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}

	// A reading of zero still counts as the campaign start.
	b := newTestArchive(t)
	for turn := 1; turn <= 34; turn++ {
		v := float64(turn)
		if turn == 1 {
			v = 0
		}
		if err := b.RecordTurn(turn, turnState(v), Delta{}); err != nil {
			t.Fatalf("RecordTurn(%d) error: %v", turn, err)
		}
	}
	if out := b.BuildContext(34); !strings.Contains(out, "• Started: 0.0\n") {
		t.Fatalf("expected a zero start reading:\n%s", out)
	}
}

func TestBuildContextSectionOrder(t *testing.T) {
	a := newTestArchive(t)
	recordScenario(t, a, 10)
	out := a.BuildContext(10)

	positions := []int{
		strings.Index(out, HeaderMajorEvents),
		strings.Index(out, HeaderNPCStatus),
		strings.Index(out, HeaderThreatTrend),
		strings.Index(out, "--- CURRENT SITUATION (turn 10) ---"),
	}
	for i, pos := range positions {
		if pos < 0 {
			t.Fatalf("section %d missing:\n%s", i, out)
		}
		if i > 0 && pos <= positions[i-1] {
			t.Fatalf("section %d out of order:\n%s", i, out)
		}
	}
	if !strings.Contains(out, HeaderNPCStatus+"\n• (none)\n") {
		t.Fatalf("expected empty NPC section:\n%s", out)
	}
	if !strings.HasSuffix(out, "--- CURRENT SITUATION (turn 10) ---") {
		t.Fatalf("context must end with the situation marker:\n%s", out)
	}
}

func TestBuildContextLimitsSummaries(t *testing.T) {
	a := newTestArchive(t)
	for turn := 1; turn <= 50; turn++ {
		full := turnState(5)
		if turn%10 == 1 {
			full[FieldEvents] = TextList("Block opened at turn " + strconv.Itoa(turn) + " with news")
		}
		if err := a.RecordTurn(turn, full, Delta{}); err != nil {
			t.Fatalf("RecordTurn(%d) error: %v", turn, err)
		}
	}
	out := a.BuildContext(50)
	for _, turn := range []int{1, 11} {
		if strings.Contains(out, "turn "+strconv.Itoa(turn)+" ") {
			t.Fatalf("summary for turn %d should have aged out of the context:\n%s", turn, out)
		}
	}
	for _, turn := range []int{21, 31, 41} {
		if !strings.Contains(out, "Block opened at turn "+strconv.Itoa(turn)+" with news") {
			t.Fatalf("missing event for turn %d:\n%s", turn, out)
		}
	}
	if !strings.Contains(out, "• Trend: stable") {
		t.Fatalf("expected stable trend:\n%s", out)
	}
}

func TestInjectPreservesBase(t *testing.T) {
	a := newTestArchive(t)
	recordScenario(t, a, 20)

	bases := []string{
		"",
		"plain",
		"line one\nline two\n",
		"=== MAJOR EVENTS ===\nfake header in caller text",
		"unicode • ✓ 龍",
	}
	for _, turn := range []int{10, 11, 18} {
		for _, base := range bases {
			out := a.Inject(turn, base)
			if !strings.HasSuffix(out, base) {
				t.Fatalf("turn %d: base %q not preserved as suffix", turn, base)
			}
			if !a.ShouldInject(turn) && out != base {
				t.Fatalf("turn %d: off-window inject changed base", turn)
			}
		}
	}
}

func TestInjectWithoutHistory(t *testing.T) {
	a := newTestArchive(t)
	if got := a.Inject(10, "base"); got != "base" {
		t.Fatalf("empty archive injected %q", got)
	}
}
