package llm

import (
	"context"
	"sync"
)

// MockBackend is a test double for Backend that replays a fixed script of
// events, or delegates to StreamFunc when set.
type MockBackend struct {
	ProviderName string
	Events       []Event
	OpenErr      error
	StreamFunc   func(ctx context.Context, req Request) (<-chan Event, error)

	mu       sync.Mutex
	requests []Request
}

func (m *MockBackend) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Stream records req and replays the script. Delivery stops when ctx ends.
func (m *MockBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range m.Events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Requests returns every request seen so far.
func (m *MockBackend) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
