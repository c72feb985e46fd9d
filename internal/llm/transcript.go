package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/soyeahso/parley/internal/conversation"
)

// PromptFor renders the stdin prompt for req. A backend that can resume a
// session already holds the history, so only the newest user message is
// sent; otherwise the whole history is rendered as a transcript.
func PromptFor(req Request) string {
	if req.HasContinuity() {
		if text, ok := lastUserText(req.Messages); ok {
			return text
		}
	}
	return RenderTranscript(req.Messages)
}

func lastUserText(msgs []conversation.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(conversation.UserMessage); ok {
			return m.Text, true
		}
	}
	return "", false
}

// RenderTranscript flattens a history into plain text. A history holding a
// single user message renders as just that message.
func RenderTranscript(msgs []conversation.Message) string {
	if len(msgs) == 1 {
		if m, ok := msgs[0].(conversation.UserMessage); ok {
			return m.Text
		}
	}

	var b strings.Builder
	if len(msgs) > 1 {
		b.WriteString("Conversation so far:\n\n")
	}
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch m := msg.(type) {
		case conversation.UserMessage:
			fmt.Fprintf(&b, "User (%s): %s", m.User, m.Text)
		case conversation.AssistantMessage:
			fmt.Fprintf(&b, "Assistant: %s", m.Text)
		case conversation.AssistantToolUseMessage:
			for j, call := range m.ToolCalls {
				if j > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "Assistant called %s(%s)", call.Name, formatArgs(call.Arguments))
			}
		case conversation.ToolResultMessage:
			status := "result"
			if m.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "Tool %s %s: %s", m.ToolCallID, status, m.Text)
		}
	}
	return b.String()
}

func formatArgs(args map[string]string) string {
	keys := slices.Sorted(maps.Keys(args))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, args[k])
	}
	return strings.Join(parts, ", ")
}
