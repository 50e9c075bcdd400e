package narrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/stellarlinkco/chronicle/internal/archive"
	"github.com/stellarlinkco/chronicle/internal/config"
	"github.com/stellarlinkco/chronicle/internal/session"
)

// mockRuntime implements Runtime interface for testing
type mockRuntime struct {
	response *api.Response
	err      error
	closed   bool
	requests []api.Request
}

func (m *mockRuntime) Run(_ context.Context, req api.Request) (*api.Response, error) {
	m.requests = append(m.requests, req)
	return m.response, m.err
}

func (m *mockRuntime) Close() {
	m.closed = true
}

func openSession(t *testing.T, turns int) *session.Session {
	t.Helper()
	reg := session.NewRegistry(archive.DefaultConfig(), nil)
	sess, err := reg.Open(context.Background(), "tale")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	for turn := 1; turn <= turns; turn++ {
		full := archive.State{
			archive.FieldThreat: archive.Number(float64(turn)),
			archive.FieldEvents: archive.TextList("The bridge at Harrow Ford collapsed under the flood"),
		}
		if err := sess.Record(context.Background(), turn, full, archive.Delta{}); err != nil {
			t.Fatalf("Record(%d) error: %v", turn, err)
		}
	}
	return sess
}

func TestNarrateInjectsOnScheduledTurn(t *testing.T) {
	rt := &mockRuntime{response: &api.Response{Result: &api.Result{Output: "The river roars."}}}
	n := New(rt, openSession(t, 17))

	reply, err := n.Narrate(context.Background(), 18, "Look around.")
	if err != nil {
		t.Fatalf("Narrate error: %v", err)
	}
	if !reply.Injected || reply.Output != "The river roars." {
		t.Fatalf("reply = %+v", reply)
	}
	if len(rt.requests) != 1 {
		t.Fatalf("requests = %d", len(rt.requests))
	}
	req := rt.requests[0]
	if req.SessionID != "tale" {
		t.Errorf("session id = %q", req.SessionID)
	}
	if !strings.Contains(req.Prompt, "Harrow Ford") || !strings.HasSuffix(req.Prompt, "\nLook around.") {
		t.Errorf("prompt = %q", req.Prompt)
	}
}

func TestNarratePassesPromptThroughOffSchedule(t *testing.T) {
	rt := &mockRuntime{response: &api.Response{}}
	n := New(rt, openSession(t, 12))

	reply, err := n.Narrate(context.Background(), 13, "Wait.")
	if err != nil {
		t.Fatalf("Narrate error: %v", err)
	}
	if reply.Injected || rt.requests[0].Prompt != "Wait." || reply.Output != "" {
		t.Errorf("reply = %+v, prompt = %q", reply, rt.requests[0].Prompt)
	}
}

func TestNarrateRuntimeError(t *testing.T) {
	rt := &mockRuntime{err: errors.New("rate limited")}
	n := New(rt, openSession(t, 1))
	if _, err := n.Narrate(context.Background(), 2, "Go."); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v", err)
	}
	n.Close()
	if !rt.closed {
		t.Error("runtime not closed")
	}
}

func TestSystemPrompt(t *testing.T) {
	cfg := config.DefaultConfig()
	if SystemPrompt(cfg) != defaultSystemPrompt {
		t.Error("expected default system prompt")
	}
	cfg.Narrator.SystemPrompt = "  Speak like a bard.  "
	if SystemPrompt(cfg) != "Speak like a bard." {
		t.Errorf("system prompt = %q", SystemPrompt(cfg))
	}
}

func TestDefaultRuntimeFactoryNeedsKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = ""
	if _, err := DefaultRuntimeFactory(cfg); err == nil {
		t.Fatal("expected missing key error")
	}
}
