package routing

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/channel"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/dedupe"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ch      *mockChannel
	store   *agent.MemoryStore
	backend *llm.MockBackend
	router  *Router
}

func newFixture(t *testing.T, opts Options, events ...llm.Event) *fixture {
	t.Helper()
	log := testLogger()
	ch := &mockChannel{id: "irc"}
	reg := channel.NewRegistry(log)
	reg.Register(ch)

	backend := &llm.MockBackend{Events: events}
	store := agent.NewMemoryStore()
	orch := agent.NewOrchestrator(backend, nil, store, agent.Options{Model: "sonnet"}, log)

	return &fixture{
		ch:      ch,
		store:   store,
		backend: backend,
		router:  NewRouter(reg, orch, opts, log),
	}
}

func dm(id, from, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        id,
		ChannelID: "irc",
		From:      from,
		FromName:  from,
		ChatID:    from,
		ChatType:  domain.ChatTypeDM,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func group(id, from, body string) domain.InboundMessage {
	msg := dm(id, from, body)
	msg.ChatID = "#general"
	msg.ChatType = domain.ChatTypeGroup
	return msg
}

func TestRouter_HandleInbound_DM(t *testing.T) {
	f := newFixture(t, Options{},
		llm.TextEvent{Text: "Hello from the agent!"},
		llm.DoneEvent{},
	)

	f.router.HandleInbound(context.Background(), dm("msg-1", "alice", "Hi there"))

	sent := f.ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].To)
	assert.Equal(t, "Hello from the agent!", sent[0].Body)
	assert.Equal(t, "irc", sent[0].ChannelID)
	assert.Equal(t, "msg-1", sent[0].ReplyToID)

	conv, found, err := f.store.FindByKey(context.Background(), conversation.NewKey("alice", "irc:alice"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, conv.MessageCount())
}

func TestRouter_HandleInbound_Group(t *testing.T) {
	f := newFixture(t, Options{},
		llm.TextEvent{Text: "Hello channel"},
		llm.DoneEvent{},
	)

	f.router.HandleInbound(context.Background(), group("msg-2", "bob", "Hello"))

	sent := f.ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "#general", sent[0].To)

	_, found, err := f.store.FindByKey(context.Background(), conversation.NewKey("bob", "irc:#general"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRouter_GlobalScopeSharesConversation(t *testing.T) {
	f := newFixture(t, Options{Scope: ScopeGlobal}, llm.TextEvent{Text: "ok"}, llm.DoneEvent{})

	f.router.HandleInbound(context.Background(), group("1", "alice", "one"))
	f.router.HandleInbound(context.Background(), group("2", "bob", "two"))

	conv, found, err := f.store.FindByKey(context.Background(), conversation.NewKey(GlobalUser, "irc:#general"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, conv.MessageCount())
	assert.Equal(t, []string{"ok", "ok"}, f.ch.bodies())
}

func TestRouter_StreamsInChunks(t *testing.T) {
	f := newFixture(t, Options{},
		llm.TextEvent{Text: "First paragraph of the answer.\n\n"},
		llm.TextEvent{Text: "Second paragraph."},
		llm.DoneEvent{},
	)

	f.router.HandleInbound(context.Background(), dm("m", "alice", "explain"))

	sent := f.ch.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "First paragraph of the answer.", sent[0].Body)
	assert.Equal(t, "m", sent[0].ReplyToID)
	assert.Equal(t, "Second paragraph.", sent[1].Body)
	assert.Empty(t, sent[1].ReplyToID)
}

func TestRouter_FailedSendsNotice(t *testing.T) {
	f := newFixture(t, Options{},
		llm.TextEvent{Text: "partial"},
		llm.ErrorEvent{Message: "rate limited"},
	)

	f.router.HandleInbound(context.Background(), dm("m", "alice", "hi"))

	sent := f.ch.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "partial", sent[0].Body)
	assert.False(t, sent[0].Notice)
	assert.Equal(t, "Sorry, something went wrong: rate limited", sent[1].Body)
	assert.True(t, sent[1].Notice)
}

func TestRouter_ToolNotices(t *testing.T) {
	call := conversation.NewToolCall("weather", nil)
	events := []llm.Event{
		llm.TextEvent{Text: "Checking."},
		llm.ToolCallEvent{Call: call},
		llm.TextEvent{Text: " Sunny."},
		llm.DoneEvent{},
	}

	t.Run("off", func(t *testing.T) {
		f := newFixture(t, Options{}, events...)
		f.router.HandleInbound(context.Background(), dm("m", "alice", "weather?"))
		assert.Equal(t, []string{"Checking. Sunny."}, f.ch.bodies())
	})

	t.Run("on", func(t *testing.T) {
		f := newFixture(t, Options{ToolNotices: map[string]bool{"irc": true}}, events...)
		f.router.HandleInbound(context.Background(), dm("m", "alice", "weather?"))

		sent := f.ch.sent()
		require.Len(t, sent, 4)
		assert.Equal(t, "Checking.", sent[0].Body)
		assert.Equal(t, "running weather", sent[1].Body)
		assert.True(t, sent[1].Notice)
		// no tool backend is configured, so the call reports an error
		assert.Equal(t, "tool failed: no tool backend configured", sent[2].Body)
		assert.Equal(t, "Sunny.", sent[3].Body)
	})
}

func TestRouter_DuplicateDropped(t *testing.T) {
	f := newFixture(t, Options{Dedupe: dedupe.New(time.Minute, 100)},
		llm.TextEvent{Text: "once"},
		llm.DoneEvent{},
	)

	msg := dm("same-id", "alice", "hi")
	f.router.HandleInbound(context.Background(), msg)
	f.router.HandleInbound(context.Background(), msg)

	assert.Equal(t, []string{"once"}, f.ch.bodies())
	assert.Len(t, f.backend.Requests(), 1)
}

func TestRouter_IgnoresBlankAndUnknownChannel(t *testing.T) {
	f := newFixture(t, Options{}, llm.DoneEvent{})

	f.router.HandleInbound(context.Background(), dm("1", "alice", "   "))
	other := dm("2", "alice", "hi")
	other.ChannelID = "nonexistent"
	f.router.HandleInbound(context.Background(), other)

	assert.Empty(t, f.ch.sent())
	assert.Empty(t, f.backend.Requests())
}

func TestRouter_Commands(t *testing.T) {
	f := newFixture(t, Options{}, llm.TextEvent{Text: "hi"}, llm.DoneEvent{})
	ctx := context.Background()

	f.router.HandleInbound(ctx, dm("1", "alice", "/status"))
	f.router.HandleInbound(ctx, dm("2", "alice", "hello"))
	f.router.HandleInbound(ctx, dm("3", "alice", "/STATUS"))
	f.router.HandleInbound(ctx, dm("4", "alice", "/clear"))
	f.router.HandleInbound(ctx, dm("5", "alice", "/status"))
	f.router.HandleInbound(ctx, dm("6", "alice", "/bogus"))

	bodies := f.ch.bodies()
	require.Len(t, bodies, 6)
	assert.Equal(t, "No conversation yet.", bodies[0])
	assert.Equal(t, "hi", bodies[1])
	assert.Contains(t, bodies[2], "2 messages, started ")
	assert.Equal(t, "Conversation cleared.", bodies[3])
	assert.Equal(t, "No conversation yet.", bodies[4])
	assert.Equal(t, "Unknown command /bogus. Try /help.", bodies[5])
	assert.Len(t, f.backend.Requests(), 1, "commands never reach the backend")
}

func TestRouter_CommandPrefix(t *testing.T) {
	f := newFixture(t, Options{CommandPrefix: "!"}, llm.TextEvent{Text: "chat"}, llm.DoneEvent{})

	f.router.HandleInbound(context.Background(), dm("1", "alice", "!help"))
	f.router.HandleInbound(context.Background(), dm("2", "alice", "/help"))

	bodies := f.ch.bodies()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "!clear")
	assert.Equal(t, "chat", bodies[1])
}

func TestParseCommand(t *testing.T) {
	r := NewRouter(channel.NewRegistry(testLogger()), nil, Options{}, testLogger())
	tests := []struct {
		in        string
		name      string
		args      string
		isCommand bool
	}{
		{"/clear", "clear", "", true},
		{"/Status now", "status", "now", true},
		{"/help   me  ", "help", "me", true},
		{"/", "", "", false},
		{"/ clear", "", "", false},
		{"clear", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, args, ok := r.parseCommand(tt.in)
			assert.Equal(t, tt.isCommand, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestRouter_Hooks(t *testing.T) {
	h := hooks.NewManager(testLogger())
	var mu sync.Mutex
	var events []string
	for _, ev := range hooks.AllEvents {
		h.On(ev, "record", func(_ context.Context, p hooks.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, p.Event)
			return nil
		})
	}
	f := newFixture(t, Options{Hooks: h}, llm.TextEvent{Text: "hi"}, llm.DoneEvent{})

	f.router.HandleInbound(context.Background(), dm("1", "alice", "hello"))
	f.router.HandleInbound(context.Background(), dm("2", "alice", "/clear"))
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		hooks.EventMessageReceived,
		hooks.EventChatStarted,
		hooks.EventChatCompleted,
		hooks.EventMessageReceived,
		hooks.EventConversationCleared,
	}, events)
}

func TestRouter_TypingIndicator(t *testing.T) {
	log := testLogger()
	ch := &typingChannel{mockChannel: mockChannel{id: "irc"}}
	reg := channel.NewRegistry(log)
	reg.Register(ch)
	orch := agent.NewOrchestrator(&llm.MockBackend{Events: []llm.Event{llm.TextEvent{Text: "x"}, llm.DoneEvent{}}},
		nil, agent.NewMemoryStore(), agent.Options{}, log)
	r := NewRouter(reg, orch, Options{}, log)

	r.HandleInbound(context.Background(), dm("1", "alice", "hi"))

	assert.Equal(t, []bool{true, false}, ch.typing)
}

// scriptedAssistant replays canned chat results.
type scriptedAssistant struct {
	events []agent.OutputEvent
	err    error
}

func (s scriptedAssistant) Chat(context.Context, conversation.Key, conversation.UserID, string) iter.Seq2[agent.OutputEvent, error] {
	return func(yield func(agent.OutputEvent, error) bool) {
		for _, ev := range s.events {
			if !yield(ev, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func (s scriptedAssistant) Clear(context.Context, conversation.Key) error { return s.err }

func (s scriptedAssistant) Status(context.Context, conversation.Key) (agent.Status, bool, error) {
	return agent.Status{}, false, s.err
}

func newScriptedRouter(a scriptedAssistant) (*Router, *mockChannel) {
	log := testLogger()
	ch := &mockChannel{id: "irc"}
	reg := channel.NewRegistry(log)
	reg.Register(ch)
	return NewRouter(reg, a, Options{}, log), ch
}

func TestRouter_StoreErrorSendsNotice(t *testing.T) {
	r, ch := newScriptedRouter(scriptedAssistant{
		events: []agent.OutputEvent{agent.TextChunk{Text: "half"}},
		err:    errors.New("disk full"),
	})

	r.HandleInbound(context.Background(), dm("1", "alice", "hi"))

	sent := ch.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "half", sent[0].Body)
	assert.True(t, sent[1].Notice)
	assert.Contains(t, sent[1].Body, "saving the conversation")
}

func TestRouter_CancelledChatIsQuiet(t *testing.T) {
	r, ch := newScriptedRouter(scriptedAssistant{
		events: []agent.OutputEvent{agent.TextChunk{Text: "never shown"}},
		err:    context.Canceled,
	})

	r.HandleInbound(context.Background(), dm("1", "alice", "hi"))

	assert.Empty(t, ch.sent())
}

func TestRouter_CompletedWithoutChunks(t *testing.T) {
	r, ch := newScriptedRouter(scriptedAssistant{
		events: []agent.OutputEvent{agent.Completed{Text: "whole answer"}},
	})

	r.HandleInbound(context.Background(), dm("1", "alice", "hi"))

	assert.Equal(t, []string{"whole answer"}, ch.bodies())
}

func TestRouter_CommandErrors(t *testing.T) {
	r, ch := newScriptedRouter(scriptedAssistant{err: errors.New("db gone")})

	r.HandleInbound(context.Background(), dm("1", "alice", "/clear"))
	r.HandleInbound(context.Background(), dm("2", "alice", "/status"))

	sent := ch.sent()
	require.Len(t, sent, 2)
	assert.True(t, sent[0].Notice)
	assert.Contains(t, sent[0].Body, "could not be cleared")
	assert.True(t, sent[1].Notice)
	assert.Contains(t, sent[1].Body, "status is unavailable")
}

func TestRouter_SerializesPerConversation(t *testing.T) {
	locks := agent.NewKeyedLocker()
	f := newFixture(t, Options{Locks: locks}, llm.TextEvent{Text: "ok"}, llm.DoneEvent{})

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.router.HandleInbound(context.Background(), dm(string(rune('a'+i)), "alice", "hi"))
		}()
	}
	wg.Wait()

	conv, found, err := f.store.FindByKey(context.Background(), conversation.NewKey("alice", "irc:alice"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, conv.MessageCount(), "no turn is lost when chats are serialized")
	assert.Zero(t, locks.Held())
}

func TestRouter_Wire(t *testing.T) {
	f := newFixture(t, Options{}, llm.TextEvent{Text: "wired"}, llm.DoneEvent{})

	f.router.Wire(context.Background())
	f.ch.deliver(dm("1", "alice", "hi"))
	f.router.Wait()

	assert.Equal(t, []string{"wired"}, f.ch.bodies())
}

func TestResolveKey(t *testing.T) {
	msg := domain.InboundMessage{ChannelID: "irc", From: "alice", ChatID: "#general"}

	assert.Equal(t, conversation.Key("alice:irc:#general"), ResolveKey(msg, ScopePerSender))
	assert.Equal(t, conversation.Key("*:irc:#general"), ResolveKey(msg, ScopeGlobal))
	assert.Equal(t, ResolveKey(msg, ScopePerSender), ResolveKey(msg, ""), "per-sender is the default")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "h...", truncate("hé", 2), "never splits a rune")
}
