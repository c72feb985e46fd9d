// Package matrix implements the Matrix messaging channel using mautrix.
package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

const (
	// typingTimeout is how long the homeserver shows the indicator unless renewed.
	typingTimeout = 30 * time.Second
	// sendTimeout bounds a single API call.
	sendTimeout = 30 * time.Second
)

// Channel implements domain.Channel for Matrix.
type Channel struct {
	cfg    config.MatrixConfig
	self   id.UserID
	client *mautrix.Client
	md     goldmark.Markdown
	log    *logging.Logger

	mu        sync.RWMutex
	handler   func(msg domain.InboundMessage)
	running   bool
	connected bool
	lastErr   string
	since     time.Time
}

// New creates a Matrix channel. No network traffic happens until Start.
func New(cfg config.MatrixConfig, log *logging.Logger) (*Channel, error) {
	self := id.UserID(cfg.UserID)
	client, err := mautrix.NewClient(cfg.Homeserver, self, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Channel{
		cfg:    cfg,
		self:   self,
		client: client,
		md:     goldmark.New(),
		log:    log.Sub("matrix"),
	}, nil
}

func (c *Channel) ID() string { return "matrix" }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes: []domain.ChatType{domain.ChatTypeGroup},
		Markdown:  true,
		Typing:    true,
	}
}

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: c.ID(),
		Connected: c.connected,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start syncs with the homeserver until ctx is cancelled or the sync
// fails. Events older than the start of the sync are ignored so the
// initial sync does not replay room history.
func (c *Channel) Start(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleEvent)
	syncer.OnSync(func(context.Context, *mautrix.RespSync, string) bool {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		return true
	})

	c.mu.Lock()
	c.running = true
	c.lastErr = ""
	c.since = time.Now()
	c.mu.Unlock()

	c.log.Info().
		Str("homeserver", c.cfg.Homeserver).
		Str("userId", c.cfg.UserID).
		Strs("allowedRooms", c.cfg.AllowedRooms).
		Msg("connecting to matrix")

	err := c.client.SyncWithContext(ctx)

	c.mu.Lock()
	c.running = false
	c.connected = false
	if err != nil && ctx.Err() == nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync: %w", err)
	}
	return nil
}

// Stop ends the sync loop.
func (c *Channel) Stop(_ context.Context) error {
	c.log.Info().Msg("stopping matrix sync")
	c.client.StopSync()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Send posts msg to the room in msg.To, with the body rendered from
// markdown into the formatted body. Notices are sent as m.notice.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.To == "" {
		return errors.New("matrix: no target specified")
	}
	content, err := c.content(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(msg.To), event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix send to %s: %w", msg.To, err)
	}
	c.log.Debug().Str("to", msg.To).Int("chars", len(msg.Body)).Bool("notice", msg.Notice).Msg("sent matrix message")
	return nil
}

func (c *Channel) content(msg domain.OutboundMessage) (*event.MessageEventContent, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Body,
	}
	if msg.Notice {
		content.MsgType = event.MsgNotice
	}
	html, err := c.renderMarkdown(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	if html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content, nil
}

// renderMarkdown converts body to HTML. It returns "" when the result is a
// single plain paragraph, which needs no formatted body.
func (c *Channel) renderMarkdown(body string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	html := strings.TrimSpace(buf.String())
	inner, isPara := strings.CutPrefix(html, "<p>")
	if isPara {
		inner, isPara = strings.CutSuffix(inner, "</p>")
	}
	if isPara && !strings.Contains(inner, "<") && !strings.Contains(inner, "&") {
		return "", nil
	}
	return html, nil
}

// SetTyping shows or clears the typing indicator in a room.
func (c *Channel) SetTyping(ctx context.Context, chatID string, typing bool) error {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := c.client.UserTyping(ctx, id.RoomID(chatID), typing, timeout)
	return err
}

func (c *Channel) handleEvent(_ context.Context, evt *event.Event) {
	msg, ok := c.inbound(evt)
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// inbound converts a room event into an InboundMessage, or reports false
// when the event should be ignored.
func (c *Channel) inbound(evt *event.Event) (domain.InboundMessage, bool) {
	if evt.Sender == c.self {
		return domain.InboundMessage{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return domain.InboundMessage{}, false
	}

	sent := time.UnixMilli(evt.Timestamp)
	c.mu.RLock()
	since := c.since
	c.mu.RUnlock()
	if !since.IsZero() && sent.Before(since) {
		return domain.InboundMessage{}, false
	}

	room := evt.RoomID.String()
	if len(c.cfg.AllowedRooms) > 0 && !slices.Contains(c.cfg.AllowedRooms, room) {
		c.log.Debug().Str("room", room).Msg("ignoring message from non-allowed room")
		return domain.InboundMessage{}, false
	}

	body := c.stripMention(content.Body)
	if body == "" {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        evt.ID.String(),
		ChannelID: c.ID(),
		From:      evt.Sender.String(),
		ChatID:    room,
		ChatType:  domain.ChatTypeGroup,
		Body:      body,
		Timestamp: sent,
		Raw:       evt,
	}
	if localpart, _, err := evt.Sender.Parse(); err == nil {
		msg.FromName = localpart
	}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		msg.ReplyToID = content.RelatesTo.InReplyTo.EventID.String()
	}
	return msg, true
}

// stripMention removes a leading "name:" address aimed at this account,
// by full user ID or by localpart.
func (c *Channel) stripMention(body string) string {
	body = strings.TrimSpace(body)
	names := []string{c.self.String()}
	if localpart, _, err := c.self.Parse(); err == nil && localpart != "" {
		names = append(names, localpart)
	}
	for _, name := range names {
		if len(body) > len(name) && strings.EqualFold(body[:len(name)], name) {
			switch body[len(name)] {
			case ':', ',':
				return strings.TrimSpace(body[len(name)+1:])
			}
		}
	}
	return body
}
