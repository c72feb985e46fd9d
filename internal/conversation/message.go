package conversation

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message is one entry of a conversation's history. The set of
// implementations is closed: UserMessage, AssistantMessage,
// AssistantToolUseMessage and ToolResultMessage.
type Message interface {
	MessageID() MessageID
	Created() time.Time
	isMessage()
}

// UserMessage is text sent by a user.
type UserMessage struct {
	ID        MessageID
	CreatedAt time.Time
	User      UserID
	Text      string
}

// AssistantMessage is the final text of a completed turn.
type AssistantMessage struct {
	ID        MessageID
	CreatedAt time.Time
	Text      string
}

// AssistantToolUseMessage records tool calls the assistant asked for.
type AssistantToolUseMessage struct {
	ID        MessageID
	CreatedAt time.Time
	ToolCalls []ToolCall
}

// ToolResultMessage records the output of one tool call.
type ToolResultMessage struct {
	ID         MessageID
	CreatedAt  time.Time
	ToolCallID ToolCallID
	Text       string
	IsError    bool
}

func (m UserMessage) MessageID() MessageID             { return m.ID }
func (m AssistantMessage) MessageID() MessageID        { return m.ID }
func (m AssistantToolUseMessage) MessageID() MessageID { return m.ID }
func (m ToolResultMessage) MessageID() MessageID       { return m.ID }

func (m UserMessage) Created() time.Time             { return m.CreatedAt }
func (m AssistantMessage) Created() time.Time        { return m.CreatedAt }
func (m AssistantToolUseMessage) Created() time.Time { return m.CreatedAt }
func (m ToolResultMessage) Created() time.Time       { return m.CreatedAt }

func (UserMessage) isMessage()             {}
func (AssistantMessage) isMessage()        {}
func (AssistantToolUseMessage) isMessage() {}
func (ToolResultMessage) isMessage()       {}

func newMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// ToolCall is a request from the backend to run a named tool.
type ToolCall struct {
	ID        ToolCallID        `json:"id"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// NewToolCall returns a ToolCall with a fresh random identity.
// The arguments map is copied.
func NewToolCall(name string, args map[string]string) ToolCall {
	return ToolCall{
		ID:        ToolCallID(uuid.NewString()),
		Name:      name,
		Arguments: maps.Clone(args),
	}
}

// Arg returns the named argument, or "" when absent.
func (c ToolCall) Arg(name string) string {
	return c.Arguments[name]
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	out := slices.Clone(calls)
	for i := range out {
		out[i].Arguments = maps.Clone(out[i].Arguments)
	}
	return out
}
