package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/archive"
)

type sessionRow struct {
	LastTurn         int    `db:"last_turn"`
	CompactedThrough int    `db:"compacted_through"`
	Baseline         []byte `db:"baseline"`
	ArchiveInterval  int    `db:"archive_interval"`
	MaxCurrent       int    `db:"max_current"`
	MaxRecent        int    `db:"max_recent"`
}

// layout is the tier layout the row was saved under. Rows written before
// the layout was recorded report ok=false.
func (r sessionRow) layout() (archive.Config, bool) {
	if r.ArchiveInterval == 0 {
		return archive.Config{}, false
	}
	return archive.Config{ArchiveInterval: r.ArchiveInterval, MaxCurrent: r.MaxCurrent, MaxRecent: r.MaxRecent}, true
}

var errLayoutMismatch = errors.New("stored tier layout differs from config")

type recordRow struct {
	Turn    int    `db:"turn_number"`
	Tier    string `db:"tier"`
	Payload []byte `db:"payload"`
}

type summaryRow struct {
	RangeStart   int    `db:"range_start"`
	RangeEnd     int    `db:"range_end"`
	ThreatTrend  string `db:"threat_trend"`
	ResourceNote string `db:"resource_note"`
	Payload      []byte `db:"payload"`
	Digest       string `db:"digest"`
}

type readingRow struct {
	Turn    int     `db:"turn_number"`
	Reading float64 `db:"reading"`
}

type statusRow struct {
	Entity string `db:"entity_id"`
	Turn   int    `db:"turn_number"`
	Fields []byte `db:"status_fields"`
}

// Load rebuilds the archive stored for sessionID. Anything but LoadOK
// returns a nil archive; only LoadMalformed means the rows are beyond use.
func (s *Store) Load(ctx context.Context, sessionID string, cfg archive.Config) (*archive.Archive, archive.LoadStatus) {
	a, err := s.load(ctx, sessionID, cfg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, archive.LoadMissing
	case errors.Is(err, archive.ErrMalformedState):
		applog.Warn("[Store] malformed session", "session", sessionID, "error", err)
		return nil, archive.LoadMalformed
	case errors.Is(err, errLayoutMismatch):
		applog.Warn("[Store] session saved under another layout", "session", sessionID, "error", err)
		return nil, archive.LoadLayoutMismatch
	case err != nil:
		applog.Error("[Store] load failed", "session", sessionID, "error", err)
		return nil, archive.LoadFailed
	}
	stats := a.Stats()
	applog.Info("[Store] session loaded", "session", sessionID,
		"lastTurn", stats.LastTurn, "summaries", stats.Summaries)
	return a, archive.LoadOK
}

func (s *Store) load(ctx context.Context, sessionID string, cfg archive.Config) (*archive.Archive, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var sess sessionRow
	if err := tx.GetContext(ctx, &sess,
		`SELECT last_turn, compacted_through, baseline, archive_interval, max_current, max_recent
		FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return nil, err
	}
	if saved, ok := sess.layout(); ok && !saved.SameLayout(cfg) {
		return nil, fmt.Errorf("%w: saved interval=%d current=%d recent=%d", errLayoutMismatch,
			saved.ArchiveInterval, saved.MaxCurrent, saved.MaxRecent)
	}
	snap := archive.Snapshot{
		LastTurn:         sess.LastTurn,
		CompactedThrough: sess.CompactedThrough,
		History:          make(map[string][]archive.StatusSnapshot),
	}
	if len(sess.Baseline) > 0 {
		if err := archive.DecodePayload(sess.Baseline, &snap.Baseline); err != nil {
			return nil, fmt.Errorf("baseline: %w", err)
		}
	}

	var records []recordRow
	if err := tx.SelectContext(ctx, &records,
		`SELECT turn_number, tier, payload FROM turn_records WHERE session_id = ? ORDER BY turn_number`, sessionID); err != nil {
		return nil, fmt.Errorf("select turn records: %w", err)
	}
	for _, row := range records {
		tier, err := archive.ParseTier(row.Tier)
		if err != nil {
			return nil, archive.Malformed("turn %d: %v", row.Turn, err)
		}
		r, err := archive.DecodeRecord(row.Turn, tier, row.Payload)
		if err != nil {
			return nil, err
		}
		snap.Records = append(snap.Records, r)
	}

	var summaries []summaryRow
	if err := tx.SelectContext(ctx, &summaries, `
		SELECT range_start, range_end, threat_trend, resource_note, payload, digest
		FROM archive_summaries WHERE session_id = ? ORDER BY range_start
	`, sessionID); err != nil {
		return nil, fmt.Errorf("select summaries: %w", err)
	}
	for _, row := range summaries {
		sum, err := decodeSummary(row)
		if err != nil {
			return nil, err
		}
		snap.Summaries = append(snap.Summaries, sum)
	}

	var readings []readingRow
	if err := tx.SelectContext(ctx, &readings,
		`SELECT turn_number, reading FROM threat_timeline WHERE session_id = ? ORDER BY turn_number`, sessionID); err != nil {
		return nil, fmt.Errorf("select threat timeline: %w", err)
	}
	for _, row := range readings {
		snap.Timeline = append(snap.Timeline, archive.ThreatReading{Turn: row.Turn, Value: row.Reading})
	}

	var statuses []statusRow
	if err := tx.SelectContext(ctx, &statuses, `
		SELECT entity_id, turn_number, status_fields
		FROM entity_status_history WHERE session_id = ? ORDER BY entity_id, turn_number
	`, sessionID); err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	for _, row := range statuses {
		var fields archive.State
		if err := archive.DecodePayload(row.Fields, &fields); err != nil {
			return nil, fmt.Errorf("status of %q at %d: %w", row.Entity, row.Turn, err)
		}
		snap.History[row.Entity] = append(snap.History[row.Entity], archive.StatusSnapshot{Turn: row.Turn, Fields: fields})
	}

	return archive.Restore(cfg, snap)
}

// decodeSummary checks the stored digest and indexed columns against the
// decoded payload.
func decodeSummary(row summaryRow) (archive.Summary, error) {
	var sum archive.Summary
	if err := archive.DecodePayload(row.Payload, &sum); err != nil {
		return archive.Summary{}, fmt.Errorf("summary %d-%d: %w", row.RangeStart, row.RangeEnd, err)
	}
	digest, err := sum.Digest()
	if err != nil {
		return archive.Summary{}, archive.Malformed("summary %d-%d: %v", row.RangeStart, row.RangeEnd, err)
	}
	if digest != row.Digest {
		return archive.Summary{}, archive.Malformed("summary %d-%d digest mismatch", row.RangeStart, row.RangeEnd)
	}
	if sum.RangeStart != row.RangeStart || sum.RangeEnd != row.RangeEnd ||
		string(sum.ThreatTrend) != row.ThreatTrend || sum.ResourceNote != row.ResourceNote {
		return archive.Summary{}, archive.Malformed("summary %d-%d columns disagree with payload", row.RangeStart, row.RangeEnd)
	}
	if _, err := archive.ParseTrend(row.ThreatTrend); err != nil {
		return archive.Summary{}, archive.Malformed("summary %d-%d: %v", row.RangeStart, row.RangeEnd, err)
	}
	return sum, nil
}
