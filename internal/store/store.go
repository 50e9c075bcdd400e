// Package store persists archives in an embedded SQLite database, one
// transaction per save, keyed by session id.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/archive"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const pragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// SessionInfo describes one persisted session.
type SessionInfo struct {
	ID            string    `db:"session_id" json:"id"`
	LastTurn      int       `db:"last_turn" json:"lastTurn"`
	LastSavedTurn int       `db:"last_saved_turn" json:"lastSavedTurn"`
	LastSavedAt   time.Time `db:"-" json:"lastSavedAt"`
	Summaries     int       `db:"summaries" json:"summaries"`
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers from concurrent sessions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sqlx.DB) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations sub-fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		applog.Info("[Store] migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes the archive state of sessionID as of turn. A turn older than
// the last saved one is skipped. Failures come back as
// *archive.PersistenceError and leave the stored state untouched.
func (s *Store) Save(ctx context.Context, sessionID string, turn int, a *archive.Archive) error {
	skipped, err := s.save(ctx, sessionID, turn, a)
	if err != nil {
		applog.Error("[Store] save failed", "session", sessionID, "turn", turn, "error", err)
		return &archive.PersistenceError{SessionID: sessionID, Turn: turn, Err: err}
	}
	if skipped {
		applog.Info("[Store] save skipped for stale turn", "session", sessionID, "turn", turn)
	}
	return nil
}

func (s *Store) save(ctx context.Context, sessionID string, turn int, a *archive.Archive) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lastSaved int
	err = tx.GetContext(ctx, &lastSaved, `SELECT last_saved_turn FROM sessions WHERE session_id = ?`, sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("read session: %w", err)
	case turn < lastSaved:
		return true, nil
	}

	snap, cfg := a.Snapshot(), a.Config()
	baseline, err := archive.EncodePayload(snap.Baseline)
	if err != nil {
		return false, fmt.Errorf("encode baseline: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, last_turn, compacted_through, last_saved_turn, last_saved_at, baseline,
			archive_interval, max_current, max_recent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_turn = excluded.last_turn,
			compacted_through = excluded.compacted_through,
			last_saved_turn = excluded.last_saved_turn,
			last_saved_at = excluded.last_saved_at,
			baseline = excluded.baseline,
			archive_interval = excluded.archive_interval,
			max_current = excluded.max_current,
			max_recent = excluded.max_recent
	`, sessionID, snap.LastTurn, snap.CompactedThrough, turn, s.now().UTC().Format(timeLayout), baseline,
		cfg.ArchiveInterval, cfg.MaxCurrent, cfg.MaxRecent); err != nil {
		return false, fmt.Errorf("upsert session: %w", err)
	}

	if err := saveRecords(ctx, tx, sessionID, snap.Records); err != nil {
		return false, err
	}
	if err := saveSummaries(ctx, tx, sessionID, snap.Summaries); err != nil {
		return false, err
	}
	if err := saveTimeline(ctx, tx, sessionID, snap.Timeline); err != nil {
		return false, err
	}
	if err := saveHistory(ctx, tx, sessionID, snap.History); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return false, nil
}

// saveRecords replaces the raw records; tiers shift between saves and folded
// turns must disappear.
func saveRecords(ctx context.Context, tx *sqlx.Tx, sessionID string, records []archive.TurnRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear turn records: %w", err)
	}
	for _, r := range records {
		payload, err := archive.EncodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turn_records (session_id, turn_number, tier, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, turn_number, tier) DO UPDATE SET payload = excluded.payload
		`, sessionID, r.Turn, r.Tier.String(), payload); err != nil {
			return fmt.Errorf("insert turn record %d: %w", r.Turn, err)
		}
	}
	return nil
}

// saveSummaries inserts only summaries past the newest stored one. Stored
// summaries are immutable.
func saveSummaries(ctx context.Context, tx *sqlx.Tx, sessionID string, summaries []archive.Summary) error {
	var storedThrough int
	if err := tx.GetContext(ctx, &storedThrough,
		`SELECT COALESCE(MAX(range_end), 0) FROM archive_summaries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("read stored summaries: %w", err)
	}
	for _, sum := range summaries {
		if sum.RangeEnd <= storedThrough {
			continue
		}
		payload, err := archive.EncodePayload(sum)
		if err != nil {
			return err
		}
		digest, err := sum.Digest()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO archive_summaries (session_id, range_start, range_end, threat_trend, resource_note, payload, digest)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, range_start) DO NOTHING
		`, sessionID, sum.RangeStart, sum.RangeEnd, string(sum.ThreatTrend), sum.ResourceNote, payload, digest); err != nil {
			return fmt.Errorf("insert summary %d-%d: %w", sum.RangeStart, sum.RangeEnd, err)
		}
	}
	return nil
}

func saveTimeline(ctx context.Context, tx *sqlx.Tx, sessionID string, readings []archive.ThreatReading) error {
	for _, r := range readings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threat_timeline (session_id, turn_number, reading) VALUES (?, ?, ?)
			ON CONFLICT(session_id, turn_number) DO UPDATE SET reading = excluded.reading
		`, sessionID, r.Turn, r.Value); err != nil {
			return fmt.Errorf("upsert threat reading %d: %w", r.Turn, err)
		}
	}
	cull := `DELETE FROM threat_timeline WHERE session_id = ?`
	args := []any{sessionID}
	if len(readings) > 0 {
		cull += ` AND turn_number < ?`
		args = append(args, readings[0].Turn)
	}
	if _, err := tx.ExecContext(ctx, cull, args...); err != nil {
		return fmt.Errorf("cull threat timeline: %w", err)
	}
	return nil
}

func saveHistory(ctx context.Context, tx *sqlx.Tx, sessionID string, history map[string][]archive.StatusSnapshot) error {
	if err := dropForgottenEntities(ctx, tx, sessionID, history); err != nil {
		return err
	}
	for entity, snaps := range history {
		for _, snap := range snaps {
			fields, err := archive.EncodePayload(snap.Fields)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entity_status_history (session_id, entity_id, turn_number, status_fields) VALUES (?, ?, ?, ?)
				ON CONFLICT(session_id, entity_id, turn_number) DO UPDATE SET status_fields = excluded.status_fields
			`, sessionID, entity, snap.Turn, fields); err != nil {
				return fmt.Errorf("upsert status of %q at %d: %w", entity, snap.Turn, err)
			}
		}
		if len(snaps) == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entity_status_history WHERE session_id = ? AND entity_id = ? AND turn_number < ?`,
			sessionID, entity, snaps[0].Turn); err != nil {
			return fmt.Errorf("cull status history of %q: %w", entity, err)
		}
	}
	return nil
}

// dropForgottenEntities removes rows of entities whose whole series has been
// culled from memory.
func dropForgottenEntities(ctx context.Context, tx *sqlx.Tx, sessionID string, history map[string][]archive.StatusSnapshot) error {
	if len(history) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_status_history WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear status history: %w", err)
		}
		return nil
	}
	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	query, args, err := sqlx.In(
		`DELETE FROM entity_status_history WHERE session_id = ? AND entity_id NOT IN (?)`, sessionID, ids)
	if err != nil {
		return fmt.Errorf("build entity cull: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("cull forgotten entities: %w", err)
	}
	return nil
}

// Delete removes a session and, through cascading keys, all of its rows.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var rows []struct {
		SessionInfo
		SavedAt string `db:"last_saved_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT s.session_id, s.last_turn, s.last_saved_turn, s.last_saved_at,
			(SELECT COUNT(*) FROM archive_summaries a WHERE a.session_id = s.session_id) AS summaries
		FROM sessions s
		ORDER BY s.last_saved_at DESC, s.session_id
	`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		info := row.SessionInfo
		info.LastSavedAt, _ = time.Parse(timeLayout, row.SavedAt)
		out = append(out, info)
	}
	return out, nil
}

// PruneBefore deletes sessions whose last save is older than cutoff and
// reports how many were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_saved_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}
