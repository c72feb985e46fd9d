package conversation

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Conversation is the state of one dialogue between a user and the
// assistant on one channel. It is immutable: transitions return an updated
// copy and leave the receiver untouched, so a Conversation can be shared
// between goroutines freely.
//
// A turn is present exactly while a response cycle is running, that is
// between Receive and Complete or Fail. Every transition moves UpdatedAt
// strictly forward.
type Conversation struct {
	id        ConversationID
	key       Key
	messages  []Message
	turn      *Turn
	token     *string
	createdAt time.Time
	updatedAt time.Time
	clock     Clock
}

// Start creates an empty conversation for key. A nil clock means SystemClock.
func Start(key Key, clock Clock) Conversation {
	if clock == nil {
		clock = SystemClock
	}
	now := clock()
	return Conversation{
		id:        ConversationID(uuid.NewString()),
		key:       key,
		createdAt: now,
		updatedAt: now,
		clock:     clock,
	}
}

// WithClock rebinds the clock used by later transitions. It is not a state
// transition and leaves UpdatedAt alone.
func (c Conversation) WithClock(clock Clock) Conversation {
	if clock == nil {
		clock = SystemClock
	}
	c.clock = clock
	return c
}

// touch advances updatedAt and returns the timestamp used.
func (c *Conversation) touch() time.Time {
	clock := c.clock
	if clock == nil {
		clock = SystemClock
	}
	c.updatedAt = nextTick(clock(), c.updatedAt)
	return c.updatedAt
}

func (c *Conversation) currentTurn(now time.Time) Turn {
	if c.turn != nil {
		return *c.turn
	}
	return NewTurn(now)
}

// Receive records a user message and begins a fresh turn, discarding any
// turn that was still in progress.
func (c Conversation) Receive(user UserID, text string) Conversation {
	now := c.touch()
	c.messages = append(slices.Clip(c.messages), UserMessage{
		ID:        newMessageID(),
		CreatedAt: now,
		User:      user,
		Text:      text,
	})
	turn := NewTurn(now)
	c.turn = &turn
	return c
}

// AddTextChunk appends streamed text to the current turn, starting one if
// none is in progress.
func (c Conversation) AddTextChunk(chunk string) Conversation {
	now := c.touch()
	turn := c.currentTurn(now).AppendText(chunk)
	c.turn = &turn
	return c
}

// AddToolCall records a pending tool call on the current turn, starting one
// if none is in progress.
func (c Conversation) AddToolCall(call ToolCall) Conversation {
	now := c.touch()
	turn := c.currentTurn(now).AddToolCall(call)
	c.turn = &turn
	return c
}

// AddToolResult completes a tool call on the current turn. Without a turn
// the result has nowhere to go and the conversation is returned unchanged.
func (c Conversation) AddToolResult(id ToolCallID, result string) Conversation {
	if c.turn == nil {
		return c
	}
	c.touch()
	turn := c.turn.CompleteToolCall(id, result)
	c.turn = &turn
	return c
}

// Complete appends the assistant's final text to the history and ends the turn.
func (c Conversation) Complete(finalText string) Conversation {
	now := c.touch()
	c.messages = append(slices.Clip(c.messages), AssistantMessage{
		ID:        newMessageID(),
		CreatedAt: now,
		Text:      finalText,
	})
	c.turn = nil
	return c
}

// Fail ends the turn without adding anything to the history. Partial text
// and tool results of the turn are dropped.
func (c Conversation) Fail(errorText string) Conversation {
	c.touch()
	c.turn = nil
	return c
}

// WithContinuityToken stores the backend's session token for the next call.
func (c Conversation) WithContinuityToken(token string) Conversation {
	c.touch()
	c.token = &token
	return c
}

// HasPendingTools reports whether the current turn waits on a tool result.
func (c Conversation) HasPendingTools() bool {
	return c.turn != nil && c.turn.HasPendingTools()
}

// PendingTools returns the tool calls of the current turn still awaiting results.
func (c Conversation) PendingTools() []ToolCall {
	if c.turn == nil {
		return nil
	}
	return c.turn.PendingToolCalls()
}

func (c Conversation) ID() ConversationID   { return c.id }
func (c Conversation) Key() Key             { return c.key }
func (c Conversation) CreatedAt() time.Time { return c.createdAt }
func (c Conversation) UpdatedAt() time.Time { return c.updatedAt }
func (c Conversation) MessageCount() int    { return len(c.messages) }

// Messages returns a copy of the history, oldest first.
func (c Conversation) Messages() []Message {
	return slices.Clone(c.messages)
}

// Turn returns the in-progress turn, if any.
func (c Conversation) Turn() (Turn, bool) {
	if c.turn == nil {
		return Turn{}, false
	}
	return *c.turn, true
}

// InTurn reports whether a response cycle is in progress.
func (c Conversation) InTurn() bool { return c.turn != nil }

// ContinuityToken returns the backend session token, if one was recorded.
func (c Conversation) ContinuityToken() (string, bool) {
	if c.token == nil {
		return "", false
	}
	return *c.token, true
}

// LastUserText returns the text of the most recent user message.
func (c Conversation) LastUserText() (string, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if m, ok := c.messages[i].(UserMessage); ok {
			return m.Text, true
		}
	}
	return "", false
}
