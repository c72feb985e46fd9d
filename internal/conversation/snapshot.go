package conversation

import (
	"slices"
	"time"
)

// Snapshot is the plain-data form of a Conversation used by stores.
type Snapshot struct {
	ID              ConversationID
	Key             Key
	Messages        []Message
	Turn            *TurnSnapshot
	ContinuityToken *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TurnSnapshot is the plain-data form of a Turn.
type TurnSnapshot struct {
	Text      string              `json:"text"`
	Pending   []ToolCall          `json:"pending,omitempty"`
	Completed []CompletedToolCall `json:"completed,omitempty"`
	StartedAt time.Time           `json:"startedAt"`
}

// Snapshot exports the conversation's state.
func (c Conversation) Snapshot() Snapshot {
	s := Snapshot{
		ID:        c.id,
		Key:       c.key,
		Messages:  slices.Clone(c.messages),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	if c.token != nil {
		tok := *c.token
		s.ContinuityToken = &tok
	}
	if c.turn != nil {
		s.Turn = &TurnSnapshot{
			Text:      c.turn.text,
			Pending:   cloneToolCalls(c.turn.pending),
			Completed: slices.Clone(c.turn.completed),
			StartedAt: c.turn.startedAt,
		}
	}
	return s
}

// Restore rebuilds a Conversation from a snapshot. A nil clock means SystemClock.
func Restore(s Snapshot, clock Clock) Conversation {
	if clock == nil {
		clock = SystemClock
	}
	c := Conversation{
		id:        s.ID,
		key:       s.Key,
		messages:  slices.Clip(slices.Clone(s.Messages)),
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
		clock:     clock,
	}
	if s.ContinuityToken != nil {
		tok := *s.ContinuityToken
		c.token = &tok
	}
	if s.Turn != nil {
		c.turn = &Turn{
			text:      s.Turn.Text,
			pending:   cloneToolCalls(s.Turn.Pending),
			completed: slices.Clone(s.Turn.Completed),
			startedAt: s.Turn.StartedAt,
		}
	}
	return c
}
