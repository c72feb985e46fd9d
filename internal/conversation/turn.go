package conversation

import (
	"slices"
	"time"
)

// CompletedToolCall pairs a finished tool call with its textual result.
type CompletedToolCall struct {
	ID     ToolCallID `json:"id"`
	Result string     `json:"result"`
}

// Turn accumulates one response cycle of the assistant: streamed text plus
// tool-call bookkeeping. A Turn is a value; every method returns a new Turn
// and never modifies the receiver.
type Turn struct {
	text      string
	pending   []ToolCall
	completed []CompletedToolCall
	startedAt time.Time
}

// NewTurn returns an empty Turn started at t.
func NewTurn(t time.Time) Turn {
	return Turn{startedAt: t}
}

// AppendText returns a Turn whose text has chunk appended.
func (t Turn) AppendText(chunk string) Turn {
	t.text += chunk
	return t
}

// AddToolCall returns a Turn with call appended to the pending calls.
// Duplicate IDs are allowed.
func (t Turn) AddToolCall(call ToolCall) Turn {
	t.pending = append(slices.Clip(t.pending), call)
	return t
}

// CompleteToolCall drops every pending call with the given id and records
// the result. Completing an id that is not pending only records the result.
func (t Turn) CompleteToolCall(id ToolCallID, result string) Turn {
	t.pending = slices.DeleteFunc(slices.Clone(t.pending), func(c ToolCall) bool {
		return c.ID == id
	})
	t.completed = append(slices.Clip(t.completed), CompletedToolCall{ID: id, Result: result})
	return t
}

// HasPendingTools reports whether any tool call is still waiting for a result.
func (t Turn) HasPendingTools() bool {
	return len(t.pending) > 0
}

// Text returns the text accumulated so far.
func (t Turn) Text() string { return t.text }

// StartedAt returns when the turn began.
func (t Turn) StartedAt() time.Time { return t.startedAt }

// PendingToolCalls returns a copy of the calls still awaiting results.
func (t Turn) PendingToolCalls() []ToolCall { return cloneToolCalls(t.pending) }

// CompletedToolCalls returns a copy of the finished calls in completion order.
func (t Turn) CompletedToolCalls() []CompletedToolCall { return slices.Clone(t.completed) }
