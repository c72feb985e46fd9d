package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnAppendText(t *testing.T) {
	base := NewTurn(time.Unix(100, 0))
	next := base.AppendText("Hello ").AppendText("").AppendText("World!")

	assert.Equal(t, "Hello World!", next.Text())
	assert.Empty(t, base.Text(), "receiver must not change")
	assert.Equal(t, time.Unix(100, 0), next.StartedAt())
}

func TestTurnAddToolCallAllowsDuplicates(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "echo"}
	turn := NewTurn(time.Time{}).AddToolCall(call).AddToolCall(call)

	assert.Len(t, turn.PendingToolCalls(), 2)
	assert.True(t, turn.HasPendingTools())
}

func TestTurnCompleteToolCall(t *testing.T) {
	a := ToolCall{ID: "a", Name: "echo"}
	b := ToolCall{ID: "b", Name: "time"}

	t.Run("pending call moves to completed", func(t *testing.T) {
		turn := NewTurn(time.Time{}).AddToolCall(a).AddToolCall(b)
		done := turn.CompleteToolCall("a", "ok")

		require.Len(t, done.PendingToolCalls(), 1)
		assert.Equal(t, ToolCallID("b"), done.PendingToolCalls()[0].ID)
		assert.Equal(t, []CompletedToolCall{{ID: "a", Result: "ok"}}, done.CompletedToolCalls())
		assert.Len(t, turn.PendingToolCalls(), 2, "receiver must not change")
	})

	t.Run("duplicate pending entries all removed", func(t *testing.T) {
		turn := NewTurn(time.Time{}).AddToolCall(a).AddToolCall(a)
		done := turn.CompleteToolCall("a", "ok")
		assert.False(t, done.HasPendingTools())
		assert.Len(t, done.CompletedToolCalls(), 1)
	})

	t.Run("unknown id only appends", func(t *testing.T) {
		turn := NewTurn(time.Time{}).AddToolCall(b)
		done := turn.CompleteToolCall("missing", "late")

		assert.Equal(t, turn.PendingToolCalls(), done.PendingToolCalls())
		assert.Equal(t, []CompletedToolCall{{ID: "missing", Result: "late"}}, done.CompletedToolCalls())
	})
}

func TestTurnIDNeverPendingAndCompleted(t *testing.T) {
	ids := []ToolCallID{"a", "b", "c"}
	turn := NewTurn(time.Time{})
	for _, id := range ids {
		turn = turn.AddToolCall(ToolCall{ID: id})
	}
	turn = turn.CompleteToolCall("b", "x").CompleteToolCall("z", "y").CompleteToolCall("a", "w")

	for _, done := range turn.CompletedToolCalls() {
		for _, p := range turn.PendingToolCalls() {
			assert.NotEqual(t, done.ID, p.ID)
		}
	}
}

func TestTurnSharedBackingArrays(t *testing.T) {
	base := NewTurn(time.Time{}).AddToolCall(ToolCall{ID: "a"})
	left := base.AddToolCall(ToolCall{ID: "left"})
	right := base.AddToolCall(ToolCall{ID: "right"})

	assert.Equal(t, ToolCallID("left"), left.PendingToolCalls()[1].ID)
	assert.Equal(t, ToolCallID("right"), right.PendingToolCalls()[1].ID)
}

func TestTurnProjectionsAreCopies(t *testing.T) {
	turn := NewTurn(time.Time{}).AddToolCall(ToolCall{ID: "a", Arguments: map[string]string{"k": "v"}})
	calls := turn.PendingToolCalls()
	calls[0].ID = "mutated"
	calls[0].Arguments["k"] = "changed"

	assert.Equal(t, ToolCallID("a"), turn.PendingToolCalls()[0].ID)
	assert.Equal(t, "v", turn.PendingToolCalls()[0].Arg("k"))
}
