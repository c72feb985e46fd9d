package agent

import "github.com/soyeahso/parley/internal/conversation"

// OutputEvent is one item of a Chat sequence. The set of implementations is
// closed: TextChunk, ToolStarted, ToolCompleted, Completed and Failed. A
// sequence that runs to the end finishes with exactly one Completed or
// Failed.
type OutputEvent interface {
	Kind() string
	isOutput()
}

// TextChunk is streamed assistant text.
type TextChunk struct {
	Text string `json:"text"`
}

// ToolStarted announces a tool call before it runs.
type ToolStarted struct {
	Call conversation.ToolCall `json:"call"`
}

// ToolCompleted carries a finished tool call's output.
type ToolCompleted struct {
	ID      conversation.ToolCallID `json:"id"`
	Result  string                  `json:"result"`
	IsError bool                    `json:"isError,omitempty"`
}

// Completed ends a successful chat with the full assistant text.
type Completed struct {
	Text string `json:"text"`
}

// Failed ends a chat whose backend reported or suffered an error.
type Failed struct {
	Error string `json:"error"`
}

// Output event kinds.
const (
	KindTextChunk     = "text_chunk"
	KindToolStarted   = "tool_started"
	KindToolCompleted = "tool_completed"
	KindCompleted     = "completed"
	KindFailed        = "failed"
)

func (TextChunk) Kind() string     { return KindTextChunk }
func (ToolStarted) Kind() string   { return KindToolStarted }
func (ToolCompleted) Kind() string { return KindToolCompleted }
func (Completed) Kind() string     { return KindCompleted }
func (Failed) Kind() string        { return KindFailed }

func (TextChunk) isOutput()     {}
func (ToolStarted) isOutput()   {}
func (ToolCompleted) isOutput() {}
func (Completed) isOutput()     {}
func (Failed) isOutput()        {}
