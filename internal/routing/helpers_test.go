package routing

import (
	"context"
	"sync"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel. Sends may arrive from
// the flusher's idle timer, so access goes through the mutex.
type mockChannel struct {
	id string

	mu      sync.Mutex
	msgs    []domain.OutboundMessage
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string { return m.id }
func (m *mockChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{ChatTypes: []domain.ChatType{domain.ChatTypeDM, domain.ChatTypeGroup}}
}
func (m *mockChannel) Start(_ context.Context) error { return nil }
func (m *mockChannel) Stop(_ context.Context) error  { return nil }
func (m *mockChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockChannel) sent() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.msgs...)
}

func (m *mockChannel) bodies() []string {
	var out []string
	for _, msg := range m.sent() {
		out = append(out, msg.Body)
	}
	return out
}

func (m *mockChannel) deliver(msg domain.InboundMessage) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(msg)
}

// typingChannel records typing indicator changes.
type typingChannel struct {
	mockChannel
	typing []bool
}

func (c *typingChannel) SetTyping(_ context.Context, _ string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, typing)
	return nil
}
