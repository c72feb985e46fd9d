package llm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/logging"
)

// ClaudeOptions tunes how the claude CLI is invoked.
type ClaudeOptions struct {
	// Command overrides the binary (e.g., a wrapper script). Defaults to "claude".
	Command string

	// AllowedTools lets the CLI use the named tools. When empty all built-in
	// tools are disabled.
	AllowedTools []string
}

type claudeContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// claudeStreamMessage is a line from `claude -p --output-format stream-json --verbose`.
type claudeStreamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// For type="assistant"
	Message *struct {
		Content []claudeContentBlock `json:"content,omitempty"`
	} `json:"message,omitempty"`

	// For type="result"
	Result     string  `json:"result,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	DurationMs int     `json:"duration_ms,omitempty"`
	CostUSD    float64 `json:"total_cost_usd,omitempty"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		CacheRead    int `json:"cache_read_input_tokens"`
		CacheWrite   int `json:"cache_creation_input_tokens"`
	} `json:"usage,omitempty"`
}

// NewClaudeBackend creates a Backend that wraps the `claude` CLI.
func NewClaudeBackend(opts ClaudeOptions, log *logging.Logger) *CLIBackend {
	command := opts.Command
	if command == "" {
		command = "claude"
	}
	return NewCLIBackend(CLIConfig{
		Command:      command,
		ProviderName: "claude",
		BuildArgs: func(req Request) []string {
			return buildClaudeArgs(req, opts.AllowedTools)
		},
		NewParser: newClaudeParser,
	}, log)
}

func buildClaudeArgs(req Request, allowedTools []string) []string {
	// --dangerously-skip-permissions is required for non-interactive (piped
	// stdin) mode. With no allowed tools, built-in tools are disabled via
	// --tools "" so the CLI has no filesystem or shell access.
	args := []string{"-p", "--dangerously-skip-permissions", "--output-format", "stream-json", "--verbose"}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	if req.HasContinuity() {
		args = append(args, "--resume", req.ContinuityToken)
	}
	if len(allowedTools) == 0 {
		args = append(args, "--tools", "")
	} else {
		for _, tool := range allowedTools {
			args = append(args, "--allowedTools", tool)
		}
	}
	return args
}

// newClaudeParser returns a parser that reports the session id whenever it
// changes, so a resumed session that forks is still tracked.
func newClaudeParser() LineParser {
	var session string
	return func(data []byte) ([]Event, error) {
		var msg claudeStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}

		var events []Event
		if msg.SessionID != "" && msg.SessionID != session {
			session = msg.SessionID
			events = append(events, ContinuityTokenEvent{Token: session})
		}

		switch msg.Type {
		case "assistant":
			if msg.Message == nil {
				return events, nil
			}
			for _, block := range msg.Message.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						events = append(events, TextEvent{Text: block.Text})
					}
				case "tool_use":
					events = append(events, ToolCallEvent{Call: claudeToolCall(block)})
				}
			}

		case "result":
			if msg.IsError {
				text := msg.Result
				if text == "" {
					text = fmt.Sprintf("claude: %s", msg.Subtype)
				}
				events = append(events, ErrorEvent{Message: text})
				return events, nil
			}
			done := DoneEvent{Result: msg.Result, CostUSD: msg.CostUSD}
			done.Duration = msDuration(msg.DurationMs)
			if msg.Usage != nil {
				done.Usage = Usage{
					InputTokens:  msg.Usage.InputTokens,
					OutputTokens: msg.Usage.OutputTokens,
					CacheRead:    msg.Usage.CacheRead,
					CacheWrite:   msg.Usage.CacheWrite,
				}
			}
			events = append(events, done)
		}
		return events, nil
	}
}

func claudeToolCall(block claudeContentBlock) conversation.ToolCall {
	id := block.ID
	if id == "" {
		id = uuid.NewString()
	}
	return conversation.ToolCall{
		ID:        conversation.ToolCallID(id),
		Name:      block.Name,
		Arguments: FlattenArguments(block.Input),
	}
}

// FlattenArguments turns a JSON object into string arguments. String values
// are kept as is; other values keep their JSON encoding.
func FlattenArguments(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]string{"input": string(raw)}
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
