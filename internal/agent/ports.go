package agent

import (
	"context"

	"github.com/soyeahso/parley/internal/conversation"
)

// ConversationStore persists conversations by key. Implementations need not
// isolate concurrent writers; the last Save for a key wins.
type ConversationStore interface {
	// FindByKey returns the stored conversation, or false if there is none.
	FindByKey(ctx context.Context, key conversation.Key) (conversation.Conversation, bool, error)

	// Save stores c under c.Key(), replacing any previous version.
	Save(ctx context.Context, c conversation.Conversation) error

	// Delete removes the conversation. Deleting a missing key is not an error.
	Delete(ctx context.Context, key conversation.Key) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context) ([]conversation.Key, error)
}

// ToolOutcome is the in-band result of a tool call.
type ToolOutcome struct {
	Text    string
	IsError bool
}

// ToolBackend runs tool calls requested by the AI backend. Failures should
// be reported as IsError outcomes; a returned error is treated the same way.
type ToolBackend interface {
	Run(ctx context.Context, call conversation.ToolCall) (ToolOutcome, error)
}

type conversationKeyCtx struct{}

// WithConversationKey tags ctx with the conversation a tool runs for.
func WithConversationKey(ctx context.Context, key conversation.Key) context.Context {
	return context.WithValue(ctx, conversationKeyCtx{}, key)
}

// ConversationKeyFrom returns the conversation key a tool runs for.
func ConversationKeyFrom(ctx context.Context) (conversation.Key, bool) {
	key, ok := ctx.Value(conversationKeyCtx{}).(conversation.Key)
	return key, ok
}
