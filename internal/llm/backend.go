// Package llm runs AI backends as CLI subprocesses and normalizes their
// streaming output into a small closed set of events.
//
// Wrapping CLIs such as `claude` rather than calling HTTP APIs reuses each
// CLI's own auth, session persistence and tool loop.
package llm

import (
	"context"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
)

// Request is the input to a streamed completion.
type Request struct {
	Messages        []conversation.Message
	ContinuityToken string
	Model           string
	System          string
}

// HasContinuity reports whether the backend can resume an earlier session.
func (r Request) HasContinuity() bool { return r.ContinuityToken != "" }

// Event is one item of a backend stream. The set of implementations is
// closed: TextEvent, ToolCallEvent, ContinuityTokenEvent, DoneEvent and
// ErrorEvent. A well-formed stream ends with exactly one DoneEvent or
// ErrorEvent and then closes.
type Event interface {
	Kind() string
	isEvent()
}

// TextEvent carries a chunk of assistant text.
type TextEvent struct {
	Text string
}

// ToolCallEvent asks for a tool to be run.
type ToolCallEvent struct {
	Call conversation.ToolCall
}

// ContinuityTokenEvent reports the backend's session token.
type ContinuityTokenEvent struct {
	Token string
}

// DoneEvent ends a successful stream.
type DoneEvent struct {
	Result   string
	Usage    Usage
	CostUSD  float64
	Duration time.Duration
}

// ErrorEvent ends a failed stream.
type ErrorEvent struct {
	Message string
}

func (TextEvent) Kind() string            { return "text" }
func (ToolCallEvent) Kind() string        { return "tool_call" }
func (ContinuityTokenEvent) Kind() string { return "continuity_token" }
func (DoneEvent) Kind() string            { return "done" }
func (ErrorEvent) Kind() string           { return "error" }

func (TextEvent) isEvent()            {}
func (ToolCallEvent) isEvent()        {}
func (ContinuityTokenEvent) isEvent() {}
func (DoneEvent) isEvent()            {}
func (ErrorEvent) isEvent()           {}

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	CacheRead    int `json:"cacheReadInputTokens,omitempty"`
	CacheWrite   int `json:"cacheCreationInputTokens,omitempty"`
}

// Backend is the interface all AI providers implement.
type Backend interface {
	// Stream starts a completion and returns its events. The channel is
	// closed after the terminal event, or early when ctx is cancelled.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// Name returns the provider name (e.g., "claude", "gemini").
	Name() string
}
