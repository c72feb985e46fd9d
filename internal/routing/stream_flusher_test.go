package routing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlusher(ch *mockChannel, cfg StreamFlusherConfig) *StreamFlusher {
	return NewStreamFlusher(
		context.Background(),
		cfg,
		ch,
		domain.OutboundMessage{ChannelID: "irc", To: "#test"},
		testLogger(),
	)
}

func TestStreamFlusher_SentenceFlush(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MaxBufferBytes: 300, IdleTimeout: 5 * time.Second})

	f.OnDelta("This is the first sentence of a response. ")
	f.OnDelta("And this is the second one.")

	sent := ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "This is the first sentence of a response.", sent[0].Body)

	f.Flush()
	assert.Equal(t, []string{
		"This is the first sentence of a response.",
		"And this is the second one.",
	}, ch.bodies())
}

func TestStreamFlusher_MinSentenceBytes(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MinSentenceBytes: 5, IdleTimeout: 5 * time.Second})

	f.OnDelta("Short one. Tail")
	assert.Equal(t, []string{"Short one."}, ch.bodies())
}

func TestStreamFlusher_ParagraphFlush(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MaxBufferBytes: 500, IdleTimeout: 5 * time.Second})

	f.OnDelta("First paragraph.\n\nSecond paragraph.")
	assert.Equal(t, []string{"First paragraph."}, ch.bodies())

	f.Flush()
	assert.Equal(t, []string{"First paragraph.", "Second paragraph."}, ch.bodies())
}

func TestStreamFlusher_SizeThreshold(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MaxBufferBytes: 50, IdleTimeout: 5 * time.Second})

	f.OnDelta(strings.Repeat("abcde ", 15))

	require.Len(t, ch.sent(), 1)
	assert.True(t, f.Flushed())
}

func TestStreamFlusher_IdleTimeout(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MaxBufferBytes: 1000, IdleTimeout: 20 * time.Millisecond})

	f.OnDelta("short text")
	assert.Empty(t, ch.sent())

	require.Eventually(t, func() bool { return len(ch.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "short text", ch.sent()[0].Body)

	f.Flush()
	assert.Len(t, ch.sent(), 1, "idle flush empties the buffer")
}

func TestStreamFlusher_FinalFlush(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{MaxBufferBytes: 1000, IdleTimeout: 5 * time.Second})

	f.OnDelta("partial content")
	assert.Empty(t, ch.sent())

	f.Flush()
	assert.Equal(t, []string{"partial content"}, ch.bodies())
	assert.True(t, f.Flushed())
	assert.Equal(t, 1, f.Chunks())
}

func TestStreamFlusher_EmptyFlush(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{})

	f.Flush()
	assert.Empty(t, ch.sent())
	assert.False(t, f.Flushed())
}

func TestStreamFlusher_Discard(t *testing.T) {
	ch := &mockChannel{id: "irc"}
	f := newTestFlusher(ch, StreamFlusherConfig{IdleTimeout: 10 * time.Millisecond})

	f.OnDelta("never sent")
	f.Discard()
	time.Sleep(30 * time.Millisecond)
	f.Flush()

	assert.Empty(t, ch.sent())
}

func TestStreamFlusher_Template(t *testing.T) {
	ch := &mockChannel{id: "matrix"}
	f := NewStreamFlusher(
		context.Background(),
		StreamFlusherConfig{MaxBufferBytes: 10, IdleTimeout: 5 * time.Second},
		ch,
		domain.OutboundMessage{ChannelID: "matrix", To: "!room:example.org", ReplyToID: "$evt", ThreadID: "$root"},
		testLogger(),
	)

	f.OnDelta(strings.Repeat("x", 20))
	f.OnDelta(strings.Repeat("y", 20))
	f.Flush()

	sent := ch.sent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, "!room:example.org", m.To)
		assert.Equal(t, "matrix", m.ChannelID)
		assert.Equal(t, "$root", m.ThreadID)
		assert.False(t, m.Notice)
	}
	assert.Equal(t, "$evt", sent[0].ReplyToID, "first chunk replies to the message")
	assert.Empty(t, sent[1].ReplyToID)
}

func TestLastSentenceEnd(t *testing.T) {
	tests := []struct {
		name string
		in   string
		min  int
		want int
	}{
		{"period space", "This is a sentence that is long enough to pass. Next", 40, 47},
		{"exclamation", "This is exciting and over forty bytes long! Yes", 40, 43},
		{"question", "Is this a question that is long enough really? Yes", 40, 46},
		{"newline", "A sentence that ends right at a newline char.\nMore", 40, 45},
		{"too short", "Hi. X", 40, -1},
		{"short allowed", "Hi. X", 2, 3},
		{"no boundary", "no sentence ending here", 40, -1},
		{"trailing period", "ends with a period.", 0, -1},
		{"empty", "", 40, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lastSentenceEnd(tt.in, tt.min))
		})
	}
}

func TestStreamFlusherBoundary(t *testing.T) {
	cfg := StreamFlusherConfig{MaxBufferBytes: 20}.withDefaults()
	assert.Equal(t, 25, cfg.boundary(strings.Repeat("x", 25)))
	assert.Equal(t, 5, cfg.boundary("one\n\ntwo"))
	assert.Zero(t, cfg.boundary("short. x"))
	assert.Zero(t, cfg.boundary(""))
}
