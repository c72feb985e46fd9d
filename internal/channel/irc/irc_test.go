package irc

import (
	"context"
	"strings"
	"testing"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestCapabilities(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	assert.Equal(t, "irc", ch.ID())
	assert.ElementsMatch(t, []domain.ChatType{domain.ChatTypeDM, domain.ChatTypeGroup}, ch.Capabilities().ChatTypes)
}

func TestStatusNotStarted(t *testing.T) {
	status := New(config.IRCConfig{}, testLogger()).Status()
	assert.Equal(t, domain.ChannelStatus{ChannelID: "irc"}, status)
}

func TestSendNotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	err := ch.Send(context.Background(), domain.OutboundMessage{To: "#test", Body: "hi"})
	assert.EqualError(t, err, "irc: not connected")
}

func TestDefaultPorts(t *testing.T) {
	assert.Equal(t, 6697, New(config.IRCConfig{UseTLS: true}, testLogger()).port())
	assert.Equal(t, 6667, New(config.IRCConfig{}, testLogger()).port())
	assert.Equal(t, 7000, New(config.IRCConfig{Port: 7000, UseTLS: true}, testLogger()).port())
}

func TestClientConfigAuth(t *testing.T) {
	sasl := New(config.IRCConfig{Server: "irc.libera.chat", Nick: "parley", Password: "pw", SASL: true, UseTLS: true}, testLogger()).clientConfig()
	assert.NotNil(t, sasl.SASL)
	assert.Empty(t, sasl.ServerPass)
	require.NotNil(t, sasl.TLSConfig)
	assert.Equal(t, "irc.libera.chat", sasl.TLSConfig.ServerName)

	pass := New(config.IRCConfig{Nick: "parley", Password: "pw"}, testLogger()).clientConfig()
	assert.Nil(t, pass.SASL)
	assert.Equal(t, "pw", pass.ServerPass)
	assert.Nil(t, pass.TLSConfig)
}

func TestAddressedTo(t *testing.T) {
	tests := []struct {
		body     string
		wantBody string
		wantOK   bool
	}{
		{"parley: what time is it", "what time is it", true},
		{"Parley, hello", "hello", true},
		{"  parley:   spaced  ", "spaced", true},
		{"hey parley how are you", "hey parley how are you", true},
		{"nothing to see", "nothing to see", false},
		{"parley", "parley", true},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := addressedTo("parley", tt.body)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBody, got)
		})
	}

	_, ok := addressedTo("", "anything")
	assert.False(t, ok)
}

func TestRejectReason(t *testing.T) {
	op := func() bool { return true }
	notOp := func() bool { return false }

	tests := []struct {
		name      string
		cfg       config.IRCConfig
		from      string
		inChannel bool
		isOp      func() bool
		want      string
	}{
		{"open channel", config.IRCConfig{}, "alice", true, notOp, ""},
		{"owner matches case-insensitively", config.IRCConfig{Owner: "Alice"}, "alice", true, notOp, ""},
		{"owner mismatch", config.IRCConfig{Owner: "alice"}, "bob", false, op, "not owner"},
		{"op only rejects non-op", config.IRCConfig{OpOnly: true}, "bob", true, notOp, "not operator"},
		{"op only accepts op", config.IRCConfig{OpOnly: true}, "bob", true, op, ""},
		{"op only ignores DMs", config.IRCConfig{OpOnly: true}, "bob", false, notOp, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rejectReason(tt.cfg, tt.from, tt.inChannel, tt.isOp))
		})
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))
	assert.Equal(t, []string{"one", "two", "three"}, splitMessage("one\n\ntwo\r\nthree\n", 400))
	assert.Empty(t, splitMessage("\n \n", 400))

	got := splitMessage("abcdefghijklmnopqrstuvwxyz", 10)
	assert.Equal(t, []string{"abcdefghij", "klmnopqrst", "uvwxyz"}, got)
}

func TestSplitMessageKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 10) // 20 bytes
	got := splitMessage(text, 5)
	for _, line := range got {
		assert.LessOrEqual(t, len(line), 5)
		assert.True(t, strings.HasPrefix(line, "é"))
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestOnMessageDeliver(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	var got domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { got = msg })

	ch.deliver(domain.InboundMessage{ID: "m1", Body: "hello"})
	assert.Equal(t, "hello", got.Body)
}
