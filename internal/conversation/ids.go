package conversation

// ConversationID identifies a single Conversation for its whole lifetime.
type ConversationID string

// UserID identifies the human on the other side of a conversation.
type UserID string

// ChannelID identifies where a conversation happens (an IRC channel, a Matrix room, an IDE window).
type ChannelID string

// Key is the store lookup key for a conversation. See NewKey.
type Key string

// ToolCallID identifies one tool invocation requested by the backend.
type ToolCallID string

// MessageID identifies one entry in a conversation's history.
type MessageID string

// NewKey combines a user and a channel into the conversation key "user:channel".
func NewKey(user UserID, channel ChannelID) Key {
	return Key(string(user) + ":" + string(channel))
}

func (k Key) String() string { return string(k) }
