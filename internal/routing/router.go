// Package routing connects messaging channels to the orchestrator.
package routing

import (
	"context"
	"errors"
	"iter"
	"maps"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/channel"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/dedupe"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/metrics"
)

// Assistant is the part of the orchestrator the router drives.
type Assistant interface {
	Chat(ctx context.Context, key conversation.Key, user conversation.UserID, text string) iter.Seq2[agent.OutputEvent, error]
	Clear(ctx context.Context, key conversation.Key) error
	Status(ctx context.Context, key conversation.Key) (agent.Status, bool, error)
}

// Options configures a Router. Every field is optional.
type Options struct {
	Scope         string          // "per-sender" | "global"
	CommandPrefix string          // defaults to "/"
	ToolNotices   map[string]bool // channel id -> announce tool calls
	Flusher       StreamFlusherConfig

	Dedupe *dedupe.Cache
	Locks  *agent.KeyedLocker // serializes chats per conversation when set
	Hooks  *hooks.Manager
}

// Router routes inbound channel messages to the assistant and streams the
// responses back through the originating channel.
type Router struct {
	channels  *channel.Registry
	assistant Assistant
	opts      Options
	log       *logging.Logger

	inflight sync.WaitGroup
}

// NewRouter creates a message router.
func NewRouter(channels *channel.Registry, assistant Assistant, opts Options, log *logging.Logger) *Router {
	if opts.Scope == "" {
		opts.Scope = ScopePerSender
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "/"
	}
	return &Router{
		channels:  channels,
		assistant: assistant,
		opts:      opts,
		log:       log.Sub("routing"),
	}
}

// HandleInbound processes one inbound message and returns when the reply
// has been sent.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	log := r.log.With("channel", msg.ChannelID)

	if r.opts.Dedupe != nil && msg.ID != "" && r.opts.Dedupe.Seen(msg.ChannelID+"\x00"+msg.ID) {
		metrics.Inbound(msg.ChannelID, "duplicate")
		log.Debug().Str("messageId", msg.ID).Msg("duplicate message dropped")
		return
	}

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		metrics.Inbound(msg.ChannelID, "ignored")
		return
	}

	ch, ok := r.channels.Get(msg.ChannelID)
	if !ok {
		metrics.Inbound(msg.ChannelID, "ignored")
		log.Error().Msg("channel not found for reply")
		return
	}

	key := ResolveKey(msg, r.opts.Scope)
	log.Info().
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("chatType", string(msg.ChatType)).
		Str("key", string(key)).
		Msg("routing inbound message")

	r.emit(ctx, hooks.EventMessageReceived, map[string]any{
		"channel": msg.ChannelID,
		"from":    msg.From,
		"chatId":  msg.ChatID,
		"key":     string(key),
		"body":    body,
	})

	if cmd, args, ok := r.parseCommand(body); ok {
		metrics.Inbound(msg.ChannelID, "command")
		r.runCommand(ctx, ch, msg, key, cmd, args)
		return
	}

	metrics.Inbound(msg.ChannelID, "chat")
	r.chat(ctx, ch, msg, key, body)
}

func (r *Router) chat(ctx context.Context, ch domain.Channel, msg domain.InboundMessage, key conversation.Key, body string) {
	log := r.log.With("key", string(key))

	if r.opts.Locks != nil {
		unlock, err := r.opts.Locks.Lock(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("gave up waiting for conversation")
			return
		}
		defer unlock()
	}

	if typer, ok := ch.(domain.Typer); ok {
		if err := typer.SetTyping(ctx, msg.ChatID, true); err != nil {
			log.Debug().Err(err).Msg("typing indicator failed")
		}
		defer func() {
			_ = typer.SetTyping(context.WithoutCancel(ctx), msg.ChatID, false)
		}()
	}

	data := map[string]any{
		"channel": msg.ChannelID,
		"from":    msg.From,
		"key":     string(key),
	}
	r.emit(ctx, hooks.EventChatStarted, data)

	flusher := NewStreamFlusher(ctx, r.opts.Flusher, ch, domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        msg.ReplyTarget(),
		ReplyToID: msg.ID,
		ThreadID:  msg.ThreadID,
	}, r.log)
	notices := r.opts.ToolNotices[msg.ChannelID]
	streamed := false

	user := conversation.UserID(msg.From)
	for ev, err := range r.assistant.Chat(ctx, key, user, body) {
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				flusher.Discard()
				log.Info().Msg("chat cancelled")
				return
			}
			flusher.Flush()
			log.Error().Err(err).Msg("chat aborted")
			r.notice(ctx, ch, msg, "Sorry, something went wrong while saving the conversation.")
			r.emit(ctx, hooks.EventChatFailed, with(data, "error", err.Error()))
			return
		}

		switch e := ev.(type) {
		case agent.TextChunk:
			streamed = true
			flusher.OnDelta(e.Text)

		case agent.ToolStarted:
			log.Debug().Str("tool", e.Call.Name).Msg("tool started")
			if notices {
				flusher.Flush()
				r.notice(ctx, ch, msg, "running "+e.Call.Name)
			}

		case agent.ToolCompleted:
			if notices && e.IsError {
				flusher.Flush()
				r.notice(ctx, ch, msg, "tool failed: "+truncate(e.Result, 200))
			}

		case agent.Completed:
			if !streamed {
				flusher.OnDelta(e.Text)
			}
			flusher.Flush()
			log.Info().Int("chunks", flusher.Chunks()).Msg("reply sent")
			r.emit(ctx, hooks.EventChatCompleted, with(data, "text", e.Text))

		case agent.Failed:
			flusher.Flush()
			log.Warn().Str("error", e.Error).Msg("chat failed")
			r.notice(ctx, ch, msg, "Sorry, something went wrong: "+truncate(e.Error, 300))
			r.emit(ctx, hooks.EventChatFailed, with(data, "error", e.Error))
		}
	}
}

// Wire registers the router as the message handler on every channel. Each
// message is handled on its own goroutine under ctx; Wait blocks until they
// have all returned.
func (r *Router) Wire(ctx context.Context) {
	for _, id := range r.channels.List() {
		ch, ok := r.channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.HandleInbound(ctx, msg)
			}()
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// Wait blocks until every message handler started by Wire has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) reply(ctx context.Context, ch domain.Channel, msg domain.InboundMessage, body string, notice bool) {
	out := domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        msg.ReplyTarget(),
		Body:      body,
		ReplyToID: msg.ID,
		ThreadID:  msg.ThreadID,
		Notice:    notice,
	}
	if err := ch.Send(ctx, out); err != nil {
		r.log.Error().Err(err).
			Str("channel", out.ChannelID).
			Str("to", out.To).
			Msg("failed to send reply")
	}
}

func (r *Router) notice(ctx context.Context, ch domain.Channel, msg domain.InboundMessage, body string) {
	r.reply(ctx, ch, msg, body, true)
}

func (r *Router) emit(ctx context.Context, event string, data map[string]any) {
	if r.opts.Hooks != nil {
		r.opts.Hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
	}
}

func with(data map[string]any, k string, v any) map[string]any {
	out := maps.Clone(data)
	out[k] = v
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
