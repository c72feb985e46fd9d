package agent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/metrics"
)

// Tool is a capability the backend can invoke during a conversation.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the backend.
	Description() string

	// Run executes the tool with the call's arguments.
	Run(ctx context.Context, args map[string]string) (string, error)
}

// ToolDef is a serializable tool description.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolRegistry holds available tools and implements ToolBackend.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	delegated map[string]bool
	timeout   time.Duration
	log       *logging.Logger
}

// NewToolRegistry creates an empty tool registry. A zero timeout means
// calls are bounded only by their context.
func NewToolRegistry(timeout time.Duration, log *logging.Logger) *ToolRegistry {
	return &ToolRegistry{
		tools:     make(map[string]Tool),
		delegated: make(map[string]bool),
		timeout:   timeout,
		log:       log.Sub("tools"),
	}
}

// Register adds a tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Delegate marks tools the backend executes itself. Calls to them are
// recorded with a note instead of being run here.
func (r *ToolRegistry) Delegate(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.delegated[n] = true
	}
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Definitions describes every registered tool, sorted by name.
func (r *ToolRegistry) Definitions() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		t := r.tools[name]
		defs = append(defs, ToolDef{Name: t.Name(), Description: t.Description()})
	}
	return defs
}

// Run executes call. Unknown tools, tool errors, timeouts and panics all
// produce an error outcome rather than a Go error.
func (r *ToolRegistry) Run(ctx context.Context, call conversation.ToolCall) (ToolOutcome, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	delegated := r.delegated[call.Name]
	r.mu.RUnlock()

	if !ok {
		if delegated {
			return ToolOutcome{Text: fmt.Sprintf("%s ran inside the backend", call.Name)}, nil
		}
		metrics.ToolCalled(call.Name, true)
		return ToolOutcome{Text: fmt.Sprintf("unknown tool: %s", call.Name), IsError: true}, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.invoke(ctx, tool, call.Arguments)
	metrics.ToolCalled(call.Name, err != nil)

	r.log.Debug().
		Str("tool", call.Name).
		Str("toolCallId", string(call.ID)).
		Dur("duration", time.Since(start)).
		AnErr("err", err).
		Msg("tool call")

	if err != nil {
		return ToolOutcome{Text: err.Error(), IsError: true}, nil
	}
	return ToolOutcome{Text: out}, nil
}

func (r *ToolRegistry) invoke(ctx context.Context, tool Tool, args map[string]string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()
	out, err = tool.Run(ctx, args)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("tool %s: %w", tool.Name(), ctx.Err())
	}
	return out, err
}
