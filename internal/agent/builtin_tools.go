package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// EchoTool returns its "text" argument unchanged.
type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Description() string { return "Returns the text argument unchanged." }

func (EchoTool) Run(_ context.Context, args map[string]string) (string, error) {
	return args["text"], nil
}

// TimeTool reports the current time, optionally in the IANA zone given by "zone".
type TimeTool struct {
	Now func() time.Time
}

func (TimeTool) Name() string { return "time" }
func (TimeTool) Description() string {
	return `Returns the current time in RFC 3339. Optional argument "zone" is an IANA time zone name.`
}

func (t TimeTool) Run(_ context.Context, args map[string]string) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now()
	if zone := args["zone"]; zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown zone %q", zone)
		}
		ts = ts.In(loc)
	}
	return ts.Format(time.RFC3339), nil
}

// ConversationStatusTool describes the conversation the tool is called from.
type ConversationStatusTool struct {
	Store ConversationStore
}

func (ConversationStatusTool) Name() string { return "conversation_status" }
func (ConversationStatusTool) Description() string {
	return "Reports how many messages the current conversation holds and when it started."
}

func (t ConversationStatusTool) Run(ctx context.Context, _ map[string]string) (string, error) {
	key, ok := ConversationKeyFrom(ctx)
	if !ok {
		return "", errors.New("no conversation in context")
	}
	conv, found, err := t.Store.FindByKey(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "no stored conversation", nil
	}
	return fmt.Sprintf("%d messages since %s", conv.MessageCount(), conv.CreatedAt().Format(time.RFC3339)), nil
}

// RegisterBuiltins adds the built-in tools. When enabled is non-empty only
// the named tools are added.
func RegisterBuiltins(r *ToolRegistry, store ConversationStore, enabled []string) {
	all := []Tool{EchoTool{}, TimeTool{}, ConversationStatusTool{Store: store}}
	for _, t := range all {
		if len(enabled) == 0 || slices.Contains(enabled, t.Name()) {
			r.Register(t)
		}
	}
}
