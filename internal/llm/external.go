package llm

import (
	"encoding/json"
	"slices"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/logging"
)

// ExternalCLIConfig configures a generic external CLI provider.
// The external CLI must:
//   - read the prompt from stdin
//   - write newline-delimited JSON, one text delta per line, ending with a
//     line of type "done", "result" or "end" (or "error")
type ExternalCLIConfig struct {
	// Command is the binary name (e.g., "gemini").
	Command string

	// Name is the display name for this provider.
	Name string

	// BaseArgs are always-present arguments.
	BaseArgs []string

	// ModelFlag is the flag to pass the model name (e.g., "--model"). Empty to skip.
	ModelFlag string

	// SystemFlag is the flag to pass the system prompt. Empty to skip.
	SystemFlag string

	// StreamFlag are the flags that request NDJSON output.
	StreamFlag []string

	// ResultField is the JSON field of the final line holding the full text (default: "result").
	ResultField string

	// StreamTextField is the JSON field in each stream line containing text (default: "content").
	StreamTextField string
}

// ExternalConfigFromEntry maps a configured provider to an ExternalCLIConfig.
func ExternalConfigFromEntry(name string, p config.ProviderEntry) ExternalCLIConfig {
	return ExternalCLIConfig{
		Command:         p.Command,
		Name:            name,
		BaseArgs:        p.BaseArgs,
		ModelFlag:       p.ModelFlag,
		SystemFlag:      p.SystemFlag,
		StreamFlag:      p.StreamFlag,
		ResultField:     p.ResultField,
		StreamTextField: p.StreamTextField,
	}
}

// NewExternalCLIBackend creates a Backend from an ExternalCLIConfig.
// These CLIs cannot resume sessions, so the full transcript is always sent.
func NewExternalCLIBackend(ecfg ExternalCLIConfig, log *logging.Logger) *CLIBackend {
	if ecfg.ResultField == "" {
		ecfg.ResultField = "result"
	}
	if ecfg.StreamTextField == "" {
		ecfg.StreamTextField = "content"
	}

	return NewCLIBackend(CLIConfig{
		Command:      ecfg.Command,
		ProviderName: ecfg.Name,
		BuildArgs: func(req Request) []string {
			return buildExternalArgs(ecfg, req)
		},
		BuildPrompt: func(req Request) string {
			return RenderTranscript(req.Messages)
		},
		NewParser: func() LineParser {
			return func(line []byte) ([]Event, error) {
				return parseExternalStreamLine(ecfg, line), nil
			}
		},
	}, log)
}

func buildExternalArgs(ecfg ExternalCLIConfig, req Request) []string {
	args := slices.Clone(ecfg.BaseArgs)

	if req.Model != "" && ecfg.ModelFlag != "" {
		args = append(args, ecfg.ModelFlag, req.Model)
	}
	if req.System != "" && ecfg.SystemFlag != "" {
		args = append(args, ecfg.SystemFlag, req.System)
	}
	return append(args, ecfg.StreamFlag...)
}

func stringField(raw map[string]json.RawMessage, field string) string {
	val, ok := raw[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return ""
	}
	return s
}

func parseExternalStreamLine(ecfg ExternalCLIConfig, data []byte) []Event {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not JSON, treat as a raw text line.
		return []Event{TextEvent{Text: string(data) + "\n"}}
	}

	switch stringField(raw, "type") {
	case "done", "result", "end":
		return []Event{DoneEvent{Result: stringField(raw, ecfg.ResultField)}}
	case "error":
		msg := stringField(raw, "error")
		if msg == "" {
			msg = stringField(raw, "message")
		}
		if msg == "" {
			msg = ecfg.Name + ": unknown error"
		}
		return []Event{ErrorEvent{Message: msg}}
	}

	if text := stringField(raw, ecfg.StreamTextField); text != "" {
		return []Event{TextEvent{Text: text}}
	}
	return nil
}
