package domain

import "time"

// ChatType classifies where a message was sent.
type ChatType string

const (
	ChatTypeDM     ChatType = "dm"
	ChatTypeGroup  ChatType = "group"
	ChatTypeThread ChatType = "thread"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	ReplyToID string    `json:"replyToId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	Raw       any       `json:"-"`
}

// ReplyTarget returns where a response to m should go: the sender for
// direct messages, the chat otherwise.
func (m InboundMessage) ReplyTarget() string {
	if m.ChatType == ChatTypeDM {
		return m.From
	}
	return m.ChatID
}

// SenderName prefers the display name over the raw sender id.
func (m InboundMessage) SenderName() string {
	if m.FromName != "" {
		return m.FromName
	}
	return m.From
}

// OutboundMessage is a message to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ReplyToID string `json:"replyToId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`

	// Notice marks status lines (tool progress, errors) that channels
	// render less prominently than replies, e.g. IRC NOTICE or m.notice.
	Notice bool `json:"notice,omitempty"`
}
