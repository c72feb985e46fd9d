package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/llm"
	"github.com/soyeahso/parley/internal/store"
)

// loadConfig reads the config file and rejects it if validation fails.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// stack is the chat stack shared by every command that talks to the
// backend or the conversation store.
type stack struct {
	store  agent.ConversationStore
	sqlite *store.ConversationStore // nil with the memory store
	db     *store.DB
	tools  *agent.ToolRegistry
	orch   *agent.Orchestrator
}

// openStore opens the configured conversation store.
func openStore(ctx context.Context, cfg config.Config) (*stack, error) {
	rt := &stack{}
	if cfg.Session.Store == "memory" {
		rt.store = agent.NewMemoryStore()
		log.Info().Msg("using in-memory conversation store")
		return rt, nil
	}

	path := cfg.Session.Path
	if path == "" {
		if err := paths.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		path = paths.Database()
	}
	db, err := store.Open(ctx, path, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	rt.db = db
	rt.sqlite = store.NewConversationStore(db, nil)
	rt.store = rt.sqlite
	log.Info().Str("path", path).Msg("using SQLite conversation store")
	return rt, nil
}

// newRuntime opens the store and builds the tools, backend and orchestrator
// on top of it.
func newStack(ctx context.Context, cfg config.Config) (*stack, error) {
	rt, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt.tools = agent.NewToolRegistry(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second, log)
	agent.RegisterBuiltins(rt.tools, rt.store, cfg.Tools.Enabled)
	rt.tools.Delegate(cfg.Backend.AllowedTools...)

	registry := llm.NewRegistryFromConfig(cfg.Backend, log)
	backend := agent.NewFailoverBackend(registry, cfg.Backend.Provider, cfg.Backend.Fallbacks, log)
	log.Info().
		Str("provider", cfg.Backend.Provider).
		Strs("fallbacks", cfg.Backend.Fallbacks).
		Strs("tools", rt.tools.Names()).
		Msg("AI backend ready")

	prompt := agent.BuildSystemPrompt(agent.PromptConfig{
		Tools:       rt.tools.Definitions(),
		ExtraPrompt: cfg.Backend.SystemPrompt,
	})
	rt.orch = agent.NewOrchestrator(backend, rt.tools, rt.store, agent.Options{
		Model:        cfg.Backend.Model,
		SystemPrompt: prompt,
	}, log)
	return rt, nil
}

func (rt *stack) Close() error {
	if rt.db != nil {
		return rt.db.Close()
	}
	return nil
}
