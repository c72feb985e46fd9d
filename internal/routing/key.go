package routing

import (
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/domain"
)

// Conversation scopes.
const (
	ScopePerSender = "per-sender"
	ScopeGlobal    = "global"
)

// GlobalUser stands in for the sender when a chat shares one conversation.
const GlobalUser conversation.UserID = "*"

// ResolveKey builds the conversation key for an inbound message.
//
// Scopes:
//   - "per-sender": one conversation per user per chat (default)
//   - "global": one conversation per chat, shared by everyone in it
func ResolveKey(msg domain.InboundMessage, scope string) conversation.Key {
	ch := conversation.ChannelID(msg.ChannelID + ":" + msg.ChatID)
	if scope == ScopeGlobal {
		return conversation.NewKey(GlobalUser, ch)
	}
	return conversation.NewKey(conversation.UserID(msg.From), ch)
}
