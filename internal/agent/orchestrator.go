package agent

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/llm"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/metrics"
)

// Options configures an Orchestrator.
type Options struct {
	Model        string
	SystemPrompt string
	Clock        conversation.Clock // nil means conversation.SystemClock
}

// Status is a read-only summary of a stored conversation. ContinuityToken
// is nil when the backend has not issued one.
type Status struct {
	MessageCount    int       `json:"messageCount"`
	ContinuityToken *string   `json:"continuityToken,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	InTurn          bool      `json:"inTurn"`
}

// Orchestrator drives chats: it loads a conversation, streams a backend
// completion, applies one transition per backend event and persists the
// result. It keeps no state between calls.
type Orchestrator struct {
	backend llm.Backend
	tools   ToolBackend
	store   ConversationStore
	opts    Options
	log     *logging.Logger
}

// NewOrchestrator creates an orchestrator. tools may be nil, in which case
// every tool call reports an error outcome.
func NewOrchestrator(backend llm.Backend, tools ToolBackend, store ConversationStore, opts Options, log *logging.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = conversation.SystemClock
	}
	return &Orchestrator{
		backend: backend,
		tools:   tools,
		store:   store,
		opts:    opts,
		log:     log.Sub("orchestrator"),
	}
}

// Chat records text from user in the conversation for key and streams the
// assistant's response.
//
// Backend failures arrive as a Failed event, never as an error. The error
// slot is used for store failures and for cancellation of ctx; either ends
// the sequence. Breaking out of the loop early abandons the backend stream
// and any running tool, and nothing further is saved.
func (o *Orchestrator) Chat(ctx context.Context, key conversation.Key, user conversation.UserID, text string) iter.Seq2[OutputEvent, error] {
	return func(yield func(OutputEvent, error) bool) {
		start := time.Now()
		outcome := metrics.OutcomeCancelled
		defer func() { metrics.ChatFinished(outcome, time.Since(start)) }()

		log := o.log.With("key", string(key))

		conv, err := o.load(ctx, key)
		if err != nil {
			outcome = metrics.OutcomeStoreErr
			yield(nil, err)
			return
		}
		conv = conv.Receive(user, text)
		if err := o.save(ctx, conv); err != nil {
			outcome = metrics.OutcomeStoreErr
			yield(nil, err)
			return
		}

		log.Info().
			Str("conversationId", string(conv.ID())).
			Str("user", string(user)).
			Int("historyLen", conv.MessageCount()).
			Msg("chat started")

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		token, _ := conv.ContinuityToken()
		events, err := o.backend.Stream(streamCtx, llm.Request{
			Messages:        conv.Messages(),
			ContinuityToken: token,
			Model:           o.opts.Model,
			System:          o.opts.SystemPrompt,
		})
		if err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			log.Warn().Err(err).Msg("backend stream failed to open")
			outcome = o.fail(ctx, conv, err.Error(), yield)
			return
		}
		defer func() {
			cancel()
			for range events {
			}
		}()

		toolCtx := WithConversationKey(streamCtx, key)

		for {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			var ev llm.Event
			var ok bool
			select {
			case ev, ok = <-events:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
			if !ok {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				ev = llm.ErrorEvent{Message: fmt.Sprintf("%s: stream closed without a result", o.backend.Name())}
			}
			metrics.BackendEvent(ev.Kind())

			switch e := ev.(type) {
			case llm.TextEvent:
				conv = conv.AddTextChunk(e.Text)
				if !yield(TextChunk{Text: e.Text}, nil) {
					return
				}

			case llm.ToolCallEvent:
				conv = conv.AddToolCall(e.Call)
				if !yield(ToolStarted{Call: e.Call}, nil) {
					return
				}
				res := o.runTool(toolCtx, e.Call)
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				log.Debug().
					Str("tool", e.Call.Name).
					Str("toolCallId", string(e.Call.ID)).
					Bool("isError", res.IsError).
					Msg("tool finished")
				conv = conv.AddToolResult(e.Call.ID, res.Text)
				if !yield(ToolCompleted{ID: e.Call.ID, Result: res.Text, IsError: res.IsError}, nil) {
					return
				}

			case llm.ContinuityTokenEvent:
				conv = conv.WithContinuityToken(e.Token)

			case llm.DoneEvent:
				var final string
				if turn, ok := conv.Turn(); ok {
					final = turn.Text()
				}
				conv = conv.Complete(final)
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				if err := o.save(ctx, conv); err != nil {
					outcome = metrics.OutcomeStoreErr
					yield(nil, err)
					return
				}
				outcome = metrics.OutcomeCompleted
				log.Info().
					Int("chars", len(final)).
					Int("inputTokens", e.Usage.InputTokens).
					Int("outputTokens", e.Usage.OutputTokens).
					Float64("costUsd", e.CostUSD).
					Dur("duration", time.Since(start)).
					Msg("chat completed")
				yield(Completed{Text: final}, nil)
				return

			case llm.ErrorEvent:
				log.Warn().Str("error", e.Message).Msg("backend reported error")
				outcome = o.fail(ctx, conv, e.Message, yield)
				return

			default:
				outcome = o.fail(ctx, conv, fmt.Sprintf("unexpected backend event %T", ev), yield)
				return
			}
		}
	}
}

// fail ends the turn, saves, and emits Failed. It returns the metrics
// outcome. A cancelled ctx saves nothing and yields the cancellation.
func (o *Orchestrator) fail(ctx context.Context, conv conversation.Conversation, msg string, yield func(OutputEvent, error) bool) string {
	conv = conv.Fail(msg)
	if err := ctx.Err(); err != nil {
		yield(nil, err)
		return metrics.OutcomeCancelled
	}
	if err := o.save(ctx, conv); err != nil {
		yield(nil, err)
		return metrics.OutcomeStoreErr
	}
	yield(Failed{Error: msg}, nil)
	return metrics.OutcomeFailed
}

// runTool runs one call, folding errors and panics into an error outcome.
func (o *Orchestrator) runTool(ctx context.Context, call conversation.ToolCall) (out ToolOutcome) {
	if o.tools == nil {
		return ToolOutcome{Text: "no tool backend configured", IsError: true}
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool panicked")
			out = ToolOutcome{Text: fmt.Sprintf("tool %s panicked: %v", call.Name, r), IsError: true}
		}
	}()
	res, err := o.tools.Run(ctx, call)
	if err != nil {
		return ToolOutcome{Text: err.Error(), IsError: true}
	}
	return res
}

func (o *Orchestrator) load(ctx context.Context, key conversation.Key) (conversation.Conversation, error) {
	conv, found, err := o.store.FindByKey(ctx, key)
	if err != nil {
		metrics.StoreError("find")
		return conversation.Conversation{}, fmt.Errorf("loading conversation %s: %w", key, err)
	}
	if !found {
		return conversation.Start(key, o.opts.Clock), nil
	}
	return conv.WithClock(o.opts.Clock), nil
}

func (o *Orchestrator) save(ctx context.Context, conv conversation.Conversation) error {
	if err := o.store.Save(ctx, conv); err != nil {
		metrics.StoreError("save")
		return fmt.Errorf("saving conversation %s: %w", conv.Key(), err)
	}
	return nil
}

// Clear deletes the conversation for key. A missing key is not an error.
func (o *Orchestrator) Clear(ctx context.Context, key conversation.Key) error {
	if err := o.store.Delete(ctx, key); err != nil {
		metrics.StoreError("delete")
		return fmt.Errorf("clearing conversation %s: %w", key, err)
	}
	o.log.Info().Str("key", string(key)).Msg("conversation cleared")
	return nil
}

// Status summarizes the conversation for key, or reports false if none exists.
func (o *Orchestrator) Status(ctx context.Context, key conversation.Key) (Status, bool, error) {
	conv, found, err := o.store.FindByKey(ctx, key)
	if err != nil {
		metrics.StoreError("find")
		return Status{}, false, fmt.Errorf("loading conversation %s: %w", key, err)
	}
	if !found {
		return Status{}, false, nil
	}
	return StatusOf(conv), true, nil
}

// StatusOf summarizes a conversation.
func StatusOf(conv conversation.Conversation) Status {
	st := Status{
		MessageCount: conv.MessageCount(),
		CreatedAt:    conv.CreatedAt(),
		UpdatedAt:    conv.UpdatedAt(),
		InTurn:       conv.InTurn(),
	}
	if token, ok := conv.ContinuityToken(); ok {
		st.ContinuityToken = &token
	}
	return st
}

// BackendName returns the name of the backend in use.
func (o *Orchestrator) BackendName() string { return o.backend.Name() }
