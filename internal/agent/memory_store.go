package agent

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/parley/internal/conversation"
)

// MemoryStore is an in-memory ConversationStore. Conversations are
// immutable values, so storing them directly is safe.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[conversation.Key]conversation.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[conversation.Key]conversation.Conversation)}
}

func (s *MemoryStore) FindByKey(_ context.Context, key conversation.Key) (conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	return c, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, c conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[c.Key()] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key conversation.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]conversation.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.byKey)), nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}
