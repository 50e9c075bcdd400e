// Package narrator sends turn prompts, with archived context injected on
// scheduled turns, to a model runtime.
package narrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/config"
	"github.com/stellarlinkco/chronicle/internal/session"
)

const defaultSystemPrompt = `You narrate a long-running interactive story.
Stay consistent with the archived context when it is given: past events, character
status, and how the threat has developed. Answer the player's prompt in a few paragraphs.`

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config) (Runtime, error)

// DefaultRuntimeFactory creates the agentsdk-go runtime for the configured
// provider.
func DefaultRuntimeFactory(cfg *config.Config) (Runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("create runtime: no API key configured")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Narrator.Model,
			MaxTokens: cfg.Narrator.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Narrator.Model,
			MaxTokens: cfg.Narrator.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Narrator.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  SystemPrompt(cfg),
		MaxIterations: cfg.Narrator.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

func SystemPrompt(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Narrator.SystemPrompt); p != "" {
		return p
	}
	return defaultSystemPrompt
}

// Narrator drives one session through a runtime.
type Narrator struct {
	runtime Runtime
	session *session.Session
}

func New(rt Runtime, sess *session.Session) *Narrator {
	return &Narrator{runtime: rt, session: sess}
}

// Reply is one narrated turn.
type Reply struct {
	Turn     int
	Injected bool
	Prompt   string
	Output   string
}

// Narrate builds the prompt for turn, prefixed with the archived context
// when turn is an injection turn, and returns the model output.
func (n *Narrator) Narrate(ctx context.Context, turn int, prompt string) (Reply, error) {
	injected := n.session.ShouldInject(turn)
	full := n.session.Inject(turn, prompt)
	injected = injected && full != prompt

	resp, err := n.runtime.Run(ctx, api.Request{
		Prompt:    full,
		SessionID: n.session.ID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("narrate turn %d: %w", turn, err)
	}
	reply := Reply{Turn: turn, Injected: injected, Prompt: full}
	if resp != nil && resp.Result != nil {
		reply.Output = resp.Result.Output
	}
	applog.Debug("[Narrator] turn narrated", "session", n.session.ID, "turn", turn, "injected", injected)
	return reply, nil
}

func (n *Narrator) Close() {
	if n.runtime != nil {
		n.runtime.Close()
	}
}
