package gateway

import (
	"testing"

	"github.com/soyeahso/parley/internal/conversation"
	"github.com/stretchr/testify/assert"
)

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"gateway.port", true},
		{"gateway.bind", true},
		{"gateway.allowedOrigins", true},
		{"logging", true},
		{"logging.level", true},
		{"session.scope", true},
		{"tools.timeoutSeconds", true},
		{"backend.model", true},
		{"gateway.auth.token", false},
		{"gateway.auth", false},
		{"gateway.portal", false},
		{"backend.provider", false},
		{"channels.irc.password", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedConfigPath(tt.key))
		})
	}
}

func TestChatKey(t *testing.T) {
	c := &Client{ConnID: "conn-1", Info: ClientInfo{ID: "vscode"}}

	assert.Equal(t, conversation.NewKey("vscode", "gateway:conn-1"), chatKey(c, ChatParams{}))
	assert.Equal(t, conversation.NewKey("vscode", "gateway:proj"), chatKey(c, ChatParams{ChatID: "proj"}))
	assert.Equal(t, conversation.NewKey("alice", "gateway:proj"), chatKey(c, ChatParams{ChatID: "proj", User: "alice"}))
}

func TestServer_Methods(t *testing.T) {
	srv := New(testConfig(), testLog())
	assert.Equal(t, []string{
		"channels.status",
		"chat.clear",
		"chat.send",
		"chat.status",
		"config.get",
		"config.set",
		"health",
	}, srv.Methods())
}
