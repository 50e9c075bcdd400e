package cron

import (
	"context"
	"fmt"
	"time"
)

type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Evictor interface {
	EvictIdle(before time.Time) int
}

// PruneSessions builds the job that deletes sessions not saved within
// retention and releases in-memory sessions idle longer than idle. A zero
// duration disables that half of the job.
func PruneSessions(p Pruner, e Evictor, retention, idle time.Duration, now func() time.Time) JobFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (string, error) {
		t := now()
		var evicted int
		if e != nil && idle > 0 {
			evicted = e.EvictIdle(t.Add(-idle))
		}
		var pruned int64
		if p != nil && retention > 0 {
			n, err := p.PruneBefore(ctx, t.Add(-retention))
			if err != nil {
				return "", fmt.Errorf("prune sessions: %w", err)
			}
			pruned = n
		}
		return fmt.Sprintf("pruned %d stored sessions, evicted %d idle sessions", pruned, evicted), nil
	}
}
