package llm

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/logging"
)

// ProviderError is returned when a backend cannot be started.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.) when the CLI reports one
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages backends and resolves provider names or aliases to them.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend // provider name → backend
	aliases  map[string]string  // alias → provider name
	fallback string             // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		aliases:  make(map[string]string),
		log:      log.Sub("llm.registry"),
	}
}

// Register adds a backend under the given provider name.
func (r *Registry) Register(name string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = backend
	r.log.Info().Str("provider", name).Msg("registered backend")
}

// Alias maps an alias to a provider, e.g. Alias("sonnet", "claude").
func (r *Registry) Alias(alias, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = provider
}

// SetFallback sets the provider used when no name or alias matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Backend for a provider name.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.backends[name]; ok {
		return b, nil
	}
	if provider, ok := r.aliases[name]; ok {
		if b, ok := r.backends[provider]; ok {
			return b, nil
		}
	}
	if r.fallback != "" {
		if b, ok := r.backends[r.fallback]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no backend for provider %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.backends))
}

var claudeAliases = []string{"sonnet", "opus", "haiku", "claude-sonnet", "claude-opus", "claude-haiku"}

// NewRegistryFromConfig registers the claude CLI plus every configured
// external provider. The configured primary provider becomes the fallback.
func NewRegistryFromConfig(cfg config.BackendConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	claude := NewClaudeBackend(ClaudeOptions{Command: cfg.Command, AllowedTools: cfg.AllowedTools}, log)
	if !CLIExists(claude.Command()) {
		reg.log.Warn().Str("cmd", claude.Command()).Msg("claude CLI not found in PATH")
	}
	reg.Register("claude", claude)
	for _, alias := range claudeAliases {
		reg.Alias(alias, "claude")
	}

	for name, entry := range cfg.Providers {
		if name == "claude" {
			continue
		}
		reg.Register(name, NewExternalCLIBackend(ExternalConfigFromEntry(name, entry), log))
	}

	reg.SetFallback(cfg.Provider)
	return reg
}
