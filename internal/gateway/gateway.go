// Package gateway hosts session archives over HTTP and runs the
// maintenance schedule beside them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/config"
	"github.com/stellarlinkco/chronicle/internal/cron"
	"github.com/stellarlinkco/chronicle/internal/session"
	"github.com/stellarlinkco/chronicle/internal/store"
)

const pruneJobName = "prune-sessions"

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
	Listener   net.Listener   // overrides Host:Port when set
}

type Gateway struct {
	cfg        *config.Config
	store      *store.Store
	registry   *session.Registry
	cron       *cron.Service
	api        *API
	httpSrv    *http.Server
	listener   net.Listener
	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		store:      st,
		registry:   session.NewRegistry(cfg.Archive, st),
		cron:       cron.NewService(),
		listener:   opts.Listener,
		signalChan: opts.SignalChan,
	}

	if cfg.Store.PruneSchedule != "" {
		job := cron.PruneSessions(st, g.registry,
			time.Duration(cfg.Store.RetentionDays)*24*time.Hour,
			time.Duration(cfg.Store.IdleEvictMins)*time.Minute,
			nil)
		if err := g.cron.AddJob(pruneJobName, cfg.Store.PruneSchedule, job); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	g.api = NewAPI(g.registry, st, g.cron)
	return g, nil
}

// Handler exposes the router for tests.
func (g *Gateway) Handler() http.Handler { return g.api.Handler() }

func (g *Gateway) Registry() *session.Registry { return g.registry }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.cron.Start(ctx)

	ln := g.listener
	if ln == nil {
		addr := net.JoinHostPort(g.cfg.Gateway.Host, strconv.Itoa(g.cfg.Gateway.Port))
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			_ = g.Shutdown(context.Background())
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}
	g.httpSrv = &http.Server{
		Handler:           g.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := g.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	applog.Info("[Gateway] running", "addr", ln.Addr().String())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	var runErr error
	select {
	case <-sigCh:
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	applog.Info("[Gateway] shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := g.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the server, saves every live session, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var firstErr error
	if g.httpSrv != nil {
		if err := g.httpSrv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	g.cron.Stop()

	for _, id := range g.registry.IDs() {
		sess, ok := g.registry.Get(id)
		if !ok || sess.LastTurn() == 0 {
			continue
		}
		if err := sess.Save(ctx); err != nil {
			applog.Warn("[Gateway] final save failed", "session", id, "error", err)
		}
	}
	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	applog.Info("[Gateway] shutdown complete")
	return firstErr
}
