package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/llm"
	"github.com/soyeahso/parley/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// recordingStore wraps MemoryStore, counting saves and optionally failing.
type recordingStore struct {
	*MemoryStore

	mu       sync.Mutex
	saves    []conversation.Conversation
	failFind error
	failSave func(n int) error // n is the 1-based save attempt
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func (s *recordingStore) FindByKey(ctx context.Context, key conversation.Key) (conversation.Conversation, bool, error) {
	if s.failFind != nil {
		return conversation.Conversation{}, false, s.failFind
	}
	return s.MemoryStore.FindByKey(ctx, key)
}

func (s *recordingStore) Save(ctx context.Context, c conversation.Conversation) error {
	s.mu.Lock()
	n := len(s.saves) + 1
	fail := s.failSave
	s.mu.Unlock()
	if fail != nil {
		if err := fail(n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.saves = append(s.saves, c)
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, c)
}

func (s *recordingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

var errDisk = errors.New("disk full")

// toolFunc adapts a function to ToolBackend.
type toolFunc func(ctx context.Context, call conversation.ToolCall) (ToolOutcome, error)

func (f toolFunc) Run(ctx context.Context, call conversation.ToolCall) (ToolOutcome, error) {
	return f(ctx, call)
}

func scripted(events ...llm.Event) *llm.MockBackend {
	return &llm.MockBackend{Events: events}
}

type collected struct {
	events []OutputEvent
	err    error
}

func drainChat(o *Orchestrator, ctx context.Context, key conversation.Key, user conversation.UserID, text string) collected {
	var out collected
	for ev, err := range o.Chat(ctx, key, user, text) {
		if err != nil {
			out.err = err
			break
		}
		out.events = append(out.events, ev)
	}
	return out
}
