// Package irc implements the IRC messaging channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/version"
)

// maxLineBytes keeps a PRIVMSG body well inside the 512 byte IRC line
// once the prefix, command and target are added.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return "irc" }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes: []domain.ChatType{domain.ChatTypeDM, domain.ChatTypeGroup},
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
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) clientConfig() girc.Config {
	cfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "parley",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	switch {
	case c.cfg.SASL && c.cfg.Password != "":
		cfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	case c.cfg.Password != "":
		cfg.ServerPass = c.cfg.Password
	}
	return cfg
}

// Start connects to the IRC server and blocks until the connection ends
// or ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.clientConfig())
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	// Connect blocks for the life of the connection.
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return nil
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("parley shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a message to an IRC channel or user. Notices go out as
// NOTICE, everything else as PRIVMSG, one command per line.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return errors.New("irc: not connected")
	}
	if msg.To == "" {
		return errors.New("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		if msg.Notice {
			client.Cmd.Notice(msg.To, line)
		} else {
			client.Cmd.Message(msg.To, line)
		}
	}

	c.log.Debug().
		Str("to", msg.To).
		Int("lines", len(lines)).
		Bool("notice", msg.Notice).
		Msg("sent IRC message")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	nick := client.GetNick()
	if strings.EqualFold(e.Source.Name, nick) {
		return
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	inChannel := e.IsFromChannel()
	chatID := e.Source.Name
	chatType := domain.ChatTypeDM
	if inChannel {
		chatID = e.Params[0]
		chatType = domain.ChatTypeGroup
		var ok bool
		if body, ok = addressedTo(nick, body); !ok {
			return
		}
	}

	isOp := func() bool { return isChannelOp(client, e.Source.Name, chatID) }
	if reason := rejectReason(c.cfg, e.Source.Name, inChannel, isOp); reason != "" {
		c.log.Debug().
			Str("nick", e.Source.Name).
			Str("chatId", chatID).
			Str("reason", reason).
			Msg("ignoring message")
		return
	}

	c.deliver(domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: c.ID(),
		From:      e.Source.Name,
		FromName:  e.Source.Name,
		ChatID:    chatID,
		ChatType:  chatType,
		Body:      body,
		Timestamp: time.Now(),
		Raw:       e,
	})
}

func (c *Channel) deliver(msg domain.InboundMessage) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// addressedTo reports whether a channel message is meant for nick and
// returns the body with a leading "nick:" or "nick," address removed.
// A mention elsewhere in the line also counts and leaves the body intact.
func addressedTo(nick, body string) (string, bool) {
	if nick == "" {
		return body, false
	}
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > len(nick) && strings.EqualFold(trimmed[:len(nick)], nick) {
		switch trimmed[len(nick)] {
		case ':', ',':
			return strings.TrimSpace(trimmed[len(nick)+1:]), true
		}
	}
	if strings.Contains(strings.ToLower(body), strings.ToLower(nick)) {
		return trimmed, true
	}
	return body, false
}

// rejectReason applies the owner and operator filters. It returns "" when
// the message should be handled. isOp is only consulted for channel
// messages with opOnly set.
func rejectReason(cfg config.IRCConfig, from string, inChannel bool, isOp func() bool) string {
	if cfg.Owner != "" && !strings.EqualFold(from, cfg.Owner) {
		return "not owner"
	}
	if inChannel && cfg.OpOnly && !isOp() {
		return "not operator"
	}
	return ""
}

// isChannelOp reports whether nick holds operator (or higher) permissions
// in channel.
func isChannelOp(client *girc.Client, nick, channel string) bool {
	user := client.LookupUser(nick)
	if user == nil {
		return false
	}
	perms, ok := user.Perms.Lookup(channel)
	return ok && perms.IsAdmin()
}

// splitMessage breaks text into IRC-sized lines. PRIVMSG cannot carry a
// newline, so each input line becomes at least one output line; blank lines
// are dropped and lines over maxLen bytes are cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		out = append(out, line)
	}
	return out
}
