// Package cron runs the server's maintenance jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/chronicle/internal/applog"
)

// JobFunc does one run of a job and returns a short result line.
type JobFunc func(ctx context.Context) (string, error)

type JobState struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"` // ok | error
	LastError  string    `json:"lastError,omitempty"`
	LastResult string    `json:"lastResult,omitempty"`
}

type job struct {
	state   JobState
	fn      JobFunc
	entryID rcron.EntryID
}

type Service struct {
	mu     sync.Mutex
	jobs   map[string]*job
	order  []string
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService() *Service {
	return &Service{
		jobs: make(map[string]*job),
		cron: rcron.New(),
	}
}

// AddJob registers fn under name with a standard five-field cron spec or a
// descriptor such as "@every 1h".
func (s *Service) AddJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{state: JobState{Name: name, Schedule: spec}, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(name) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, spec, err)
	}
	j.entryID = id
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	applog.Info("[Cron] started", "jobs", count)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		applog.Warn("[Cron] stop timeout waiting for running jobs")
	}
	applog.Info("[Cron] stopped")
}

// RunNow executes the named job synchronously outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	s.execute(name)
	return nil
}

func (s *Service) execute(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := j.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.state.LastRunAt = time.Now()
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
		j.state.LastResult = ""
		applog.Error("[Cron] job failed", "job", name, "error", err)
		return
	}
	j.state.LastStatus = "ok"
	j.state.LastError = ""
	j.state.LastResult = truncate(result, 100)
	applog.Info("[Cron] job done", "job", name, "result", j.state.LastResult)
}

// Jobs returns the state of every job in registration order.
func (s *Service) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.jobs[name].state)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
