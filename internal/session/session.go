// Package session gives each session id exclusive ownership of one archive.
// Calls on a Session are serialized; distinct sessions proceed in parallel.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/archive"
)

// Persister is the durable side of a session. *store.Store implements it.
type Persister interface {
	Save(ctx context.Context, sessionID string, turn int, a *archive.Archive) error
	Load(ctx context.Context, sessionID string, cfg archive.Config) (*archive.Archive, archive.LoadStatus)
	Delete(ctx context.Context, sessionID string) error
}

type Session struct {
	ID string

	mu         sync.Mutex
	archive    *archive.Archive
	persister  Persister
	durable    bool
	lastActive time.Time
}

// Record appends a turn and saves the session. Only an out-of-order turn is
// returned as an error; a failed save is logged and leaves the session
// running in memory until a later save succeeds.
func (s *Session) Record(ctx context.Context, turn int, full archive.State, delta archive.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.archive.RecordTurn(turn, full, delta); err != nil {
		return err
	}
	s.lastActive = time.Now()
	s.saveLocked(ctx, turn)
	return nil
}

// Save persists the session as of its last recorded turn.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	err := s.persister.Save(ctx, s.ID, s.archive.LastTurn(), s.archive)
	s.durable = err == nil
	return err
}

func (s *Session) saveLocked(ctx context.Context, turn int) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, s.ID, turn, s.archive); err != nil {
		s.durable = false
		applog.Warn("[Session] continuing in memory", "session", s.ID, "turn", turn, "error", err)
		return
	}
	s.durable = true
}

// Durable reports whether the latest save attempt succeeded.
func (s *Session) Durable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durable
}

func (s *Session) ShouldInject(turn int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.ShouldInject(turn)
}

func (s *Session) Inject(turn int, base string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.Inject(turn, base)
}

func (s *Session) Context(turn int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.BuildContext(turn)
}

func (s *Session) Stats() archive.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.Stats()
}

func (s *Session) LastTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.LastTurn()
}

type Registry struct {
	cfg       archive.Config
	persister Persister

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns a registry backed by p. A nil p keeps every session
// in memory only.
func NewRegistry(cfg archive.Config, p Persister) *Registry {
	return &Registry{
		cfg:       cfg,
		persister: p,
		sessions:  make(map[string]*Session),
	}
}

// Open returns the live session for id, loading it from the store or
// starting it fresh on first use. Malformed stored rows are cleared first.
// Rows that cannot be read right now, or that were saved under another tier
// layout, are left alone and Open fails.
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("open session: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	s := &Session{ID: id, persister: r.persister, lastActive: time.Now()}
	if r.persister != nil {
		a, status := r.persister.Load(ctx, id, r.cfg)
		switch status {
		case archive.LoadOK:
			s.archive = a
			s.durable = true
		case archive.LoadMissing:
		case archive.LoadMalformed:
			// Leftover rows would shadow the fresh history.
			if err := r.persister.Delete(ctx, id); err != nil {
				applog.Warn("[Session] clearing malformed rows failed", "session", id, "error", err)
			}
		default:
			return nil, fmt.Errorf("open session %s: stored history %s", id, status)
		}
	}
	if s.archive == nil {
		a, err := archive.New(r.cfg)
		if err != nil {
			return nil, fmt.Errorf("open session %s: %w", id, err)
		}
		s.archive = a
		applog.Info("[Session] started fresh", "session", id)
	}
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Forget releases the live session without touching stored state.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Drop forgets the session and deletes its stored history.
func (r *Registry) Drop(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	if r.persister == nil {
		return nil
	}
	return r.persister.Delete(ctx, id)
}

// EvictIdle releases sessions untouched since before. Each is saved first;
// a session whose history is not in the store stays live. The next Open
// reloads what was evicted.
func (r *Registry) EvictIdle(before time.Time) int {
	if r.persister == nil {
		return 0
	}
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	evicted := 0
	for _, s := range live {
		if !s.releasable(before) {
			continue
		}
		r.mu.Lock()
		// A racing Record refreshes lastActive; re-check under both locks.
		if r.sessions[s.ID] == s && s.idleSince(before) {
			delete(r.sessions, s.ID)
			evicted++
		}
		r.mu.Unlock()
	}
	return evicted
}

// releasable saves an idle session and reports whether the store now holds
// all of its history.
func (s *Session) releasable(before time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastActive.Before(before) {
		return false
	}
	if s.durable || s.archive.LastTurn() == 0 {
		return true
	}
	if err := s.persister.Save(context.Background(), s.ID, s.archive.LastTurn(), s.archive); err != nil {
		applog.Warn("[Session] keeping unsaved idle session", "session", s.ID, "error", err)
		return false
	}
	s.durable = true
	return true
}

func (s *Session) idleSince(before time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive.Before(before) && (s.durable || s.archive.LastTurn() == 0)
}

// IDs lists the live sessions in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
