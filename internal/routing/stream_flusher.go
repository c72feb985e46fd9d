package routing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// StreamFlusherConfig controls when buffered text is sent to the channel.
type StreamFlusherConfig struct {
	// MaxBufferBytes triggers a flush when the buffer reaches this size.
	// Default: 300 bytes.
	MaxBufferBytes int

	// MinSentenceBytes is the smallest chunk sent at a sentence boundary.
	// Default: 40 bytes.
	MinSentenceBytes int

	// IdleTimeout triggers a flush when no new text arrives within this duration.
	// Default: 2 seconds.
	IdleTimeout time.Duration
}

func (c StreamFlusherConfig) withDefaults() StreamFlusherConfig {
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = 300
	}
	if c.MinSentenceBytes <= 0 {
		c.MinSentenceBytes = 40
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Second
	}
	return c
}

// StreamFlusher accumulates streamed assistant text and sends it to a channel
// at natural boundaries: paragraphs, sentences, a size limit or an idle
// timeout. Each chunk is one OutboundMessage built from a template; only the
// first chunk carries the template's ReplyToID.
type StreamFlusher struct {
	cfg  StreamFlusherConfig
	ch   domain.Channel
	ctx  context.Context
	tmpl domain.OutboundMessage
	log  *logging.Logger

	mu     sync.Mutex
	buf    strings.Builder
	timer  *time.Timer
	chunks int
}

// NewStreamFlusher creates a flusher that sends chunks addressed like tmpl.
func NewStreamFlusher(
	ctx context.Context,
	cfg StreamFlusherConfig,
	ch domain.Channel,
	tmpl domain.OutboundMessage,
	log *logging.Logger,
) *StreamFlusher {
	return &StreamFlusher{
		cfg:  cfg.withDefaults(),
		ch:   ch,
		ctx:  ctx,
		tmpl: tmpl,
		log:  log,
	}
}

// OnDelta appends text to the buffer and flushes if a boundary is reached.
func (f *StreamFlusher) OnDelta(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.WriteString(text)

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.IdleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.flushLocked()
	})

	f.checkFlushLocked()
}

// Flush sends whatever is buffered. Call it when the stream ends and before
// sending anything else to the same target.
func (f *StreamFlusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimerLocked()
	f.flushLocked()
}

// Discard drops buffered text without sending it.
func (f *StreamFlusher) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimerLocked()
	f.buf.Reset()
}

// Flushed reports whether at least one chunk was sent.
func (f *StreamFlusher) Flushed() bool {
	return f.Chunks() > 0
}

// Chunks returns the number of chunks sent so far.
func (f *StreamFlusher) Chunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks
}

func (f *StreamFlusher) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// boundary returns how many leading bytes of buffered text are ready to
// send: all of it once the size limit is hit, else up to the last paragraph
// break, else up to the last sentence end. Zero means keep buffering.
func (c StreamFlusherConfig) boundary(content string) int {
	if len(content) >= c.MaxBufferBytes {
		return len(content)
	}
	if idx := strings.LastIndex(content, "\n\n"); idx >= 0 {
		return idx + 2
	}
	return max(lastSentenceEnd(content, c.MinSentenceBytes), 0)
}

func (f *StreamFlusher) checkFlushLocked() {
	if n := f.cfg.boundary(f.buf.String()); n > 0 {
		f.flushAtLocked(n)
	}
}

// flushAtLocked sends the first pos bytes of the buffer and keeps the rest.
// Whitespace-only text is left buffered.
func (f *StreamFlusher) flushAtLocked(pos int) {
	content := f.buf.String()
	pos = min(pos, len(content))
	body := strings.TrimSpace(content[:pos])
	if body == "" {
		return
	}
	f.sendLocked(body)
	f.buf.Reset()
	f.buf.WriteString(content[pos:])
}

func (f *StreamFlusher) flushLocked() {
	body := strings.TrimSpace(f.buf.String())
	f.buf.Reset()
	if body != "" {
		f.sendLocked(body)
	}
}

func (f *StreamFlusher) sendLocked(body string) {
	msg := f.tmpl
	msg.Body = body
	if f.chunks > 0 {
		msg.ReplyToID = ""
	}
	f.chunks++
	if err := f.ch.Send(f.ctx, msg); err != nil {
		f.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("to", msg.To).
			Msg("failed to send stream chunk")
	}
}

// lastSentenceEnd returns the byte position just past the last sentence-ending
// punctuation (. ! ?) followed by a space or newline, or -1 if there is none
// past minBytes.
func lastSentenceEnd(s string, minBytes int) int {
	best := -1
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') &&
			(s[i+1] == ' ' || s[i+1] == '\n') {
			best = i + 1
		}
	}
	if best > minBytes {
		return best
	}
	return -1
}
