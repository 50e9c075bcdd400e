package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/archive"
	"github.com/stellarlinkco/chronicle/internal/cron"
	"github.com/stellarlinkco/chronicle/internal/session"
	"github.com/stellarlinkco/chronicle/internal/store"
)

const maxTurnBody = 1 << 20

// SessionLister reports persisted sessions. *store.Store implements it.
type SessionLister interface {
	Sessions(ctx context.Context) ([]store.SessionInfo, error)
}

// API serves the session routes over a registry.
type API struct {
	registry *session.Registry
	lister   SessionLister
	jobs     *cron.Service
	newID    func() string
}

func NewAPI(registry *session.Registry, lister SessionLister, jobs *cron.Service) *API {
	return &API{
		registry: registry,
		lister:   lister,
		jobs:     jobs,
		newID:    func() string { return uuid.New().String() },
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/jobs", a.listJobs)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.listSessions)
		r.Post("/", a.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/turns", a.recordTurn)
			r.Get("/context", a.getContext)
			r.Get("/stats", a.getStats)
			r.Delete("/", a.dropSession)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		applog.Debug("[Gateway] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type sessionList struct {
	Live   []string            `json:"live"`
	Stored []store.SessionInfo `json:"stored,omitempty"`
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	out := sessionList{Live: a.registry.IDs()}
	if a.lister != nil {
		stored, err := a.lister.Sessions(r.Context())
		if err != nil {
			applog.Error("[Gateway] list sessions failed", "error", err)
			writeError(w, http.StatusInternalServerError, "list sessions failed")
			return
		}
		out.Stored = stored
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.registry.Open(r.Context(), a.newID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID})
}

type turnResult struct {
	Turn    int           `json:"turn"`
	Durable bool          `json:"durable"`
	Stats   archive.Stats `json:"stats"`
}

func (a *API) recordTurn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTurnBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	in, err := session.ParseTurn(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.registry.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sess.RecordInput(r.Context(), in); err != nil {
		switch {
		case errors.Is(err, archive.ErrOutOfOrderTurn):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, archive.ErrTurnGap):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, turnResult{Turn: in.Turn, Durable: sess.Durable(), Stats: sess.Stats()})
}

type contextResult struct {
	Turn    int    `json:"turn"`
	Inject  bool   `json:"inject"`
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
}

// getContext previews injection at ?turn=N (default: the last recorded
// turn) with ?text= as the base prompt.
func (a *API) getContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.liveOrStored(w, r)
	if !ok {
		return
	}
	turn := sess.LastTurn()
	if raw := r.URL.Query().Get("turn"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "turn must be a positive integer")
			return
		}
		turn = n
	}
	base := r.URL.Query().Get("text")
	writeJSON(w, http.StatusOK, contextResult{
		Turn:    turn,
		Inject:  sess.ShouldInject(turn),
		Context: sess.Context(turn),
		Prompt:  sess.Inject(turn, base),
	})
}

type statsResult struct {
	archive.Stats
	Durable bool `json:"durable"`
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.liveOrStored(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statsResult{Stats: sess.Stats(), Durable: sess.Durable()})
}

func (a *API) dropSession(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Drop(r.Context(), chi.URLParam(r, "id")); err != nil {
		applog.Error("[Gateway] drop session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "drop session failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	if a.jobs == nil {
		writeJSON(w, http.StatusOK, []cron.JobState{})
		return
	}
	writeJSON(w, http.StatusOK, a.jobs.Jobs())
}

// liveOrStored opens a session for reading. Reads never create sessions:
// an id with no live session and no recorded turns is a 404.
func (a *API) liveOrStored(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	if sess, ok := a.registry.Get(id); ok {
		return sess, true
	}
	sess, err := a.registry.Open(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if sess.LastTurn() == 0 {
		a.registry.Forget(id)
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
