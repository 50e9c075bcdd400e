package archive

import "fmt"

const (
	DefaultMaxCurrent       = 6
	DefaultMaxRecent        = 10
	DefaultArchiveInterval  = 10
	DefaultInjectionPeriod  = 8
	DefaultTimelineCap      = 20
	DefaultMinEventLength   = 20
	DefaultMaxSummaryEvents = 5
	DefaultContextSummaries = 3
	DefaultThreatEpsilon    = 0.5
	DefaultMaxTurnGap       = 10000
)

// Config bundles every archive tunable. It is passed to New and never read
// from package state.
type Config struct {
	MaxCurrent       int     `json:"maxCurrent"`
	MaxRecent        int     `json:"maxRecent"`
	ArchiveInterval  int     `json:"archiveInterval"`
	InjectionPeriod  int     `json:"injectionPeriod"`
	TimelineCap      int     `json:"timelineCap"`
	MinEventLength   int     `json:"minEventLength"`
	MaxSummaryEvents int     `json:"maxSummaryEvents"`
	ContextSummaries int     `json:"contextSummaries"`
	ThreatEpsilon    float64 `json:"threatEpsilon"`

	// MaxTurnGap caps how far one turn may jump past the last recorded
	// one. Every skipped interval still produces a summary.
	MaxTurnGap int `json:"maxTurnGap"`
}

func DefaultConfig() Config {
	return Config{
		MaxCurrent:       DefaultMaxCurrent,
		MaxRecent:        DefaultMaxRecent,
		ArchiveInterval:  DefaultArchiveInterval,
		InjectionPeriod:  DefaultInjectionPeriod,
		TimelineCap:      DefaultTimelineCap,
		MinEventLength:   DefaultMinEventLength,
		MaxSummaryEvents: DefaultMaxSummaryEvents,
		ContextSummaries: DefaultContextSummaries,
		ThreatEpsilon:    DefaultThreatEpsilon,
		MaxTurnGap:       DefaultMaxTurnGap,
	}
}

// FirstCompactionTurn is the turn at which the first summary is produced.
func (c Config) FirstCompactionTurn() int {
	return c.ArchiveInterval
}

// SameLayout reports whether an archive saved under c can be restored under
// o. Only the tier sizes and the archive interval shape persisted state.
func (c Config) SameLayout(o Config) bool {
	return c.ArchiveInterval == o.ArchiveInterval && c.MaxCurrent == o.MaxCurrent && c.MaxRecent == o.MaxRecent
}

func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"maxCurrent", c.MaxCurrent},
		{"maxRecent", c.MaxRecent},
		{"archiveInterval", c.ArchiveInterval},
		{"injectionPeriod", c.InjectionPeriod},
		{"timelineCap", c.TimelineCap},
		{"maxSummaryEvents", c.MaxSummaryEvents},
		{"contextSummaries", c.ContextSummaries},
		{"maxTurnGap", c.MaxTurnGap},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("archive config: %s must be > 0, got %d", p.name, p.value)
		}
	}
	if c.MinEventLength < 0 {
		return fmt.Errorf("archive config: minEventLength must be >= 0, got %d", c.MinEventLength)
	}
	if c.ThreatEpsilon < 0 {
		return fmt.Errorf("archive config: threatEpsilon must be >= 0, got %g", c.ThreatEpsilon)
	}
	if c.MaxRecent < c.ArchiveInterval {
		return fmt.Errorf("archive config: maxRecent (%d) must hold a full archive interval (%d)", c.MaxRecent, c.ArchiveInterval)
	}
	if c.TimelineCap < c.MaxCurrent+c.MaxRecent+1 {
		return fmt.Errorf("archive config: timelineCap (%d) must be at least maxCurrent+maxRecent+1 (%d)", c.TimelineCap, c.MaxCurrent+c.MaxRecent+1)
	}
	return nil
}
