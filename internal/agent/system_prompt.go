package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Now         time.Time
	ChannelID   string
	UserName    string
	Tools       []ToolDef
	ExtraPrompt string
}

// BuildSystemPrompt constructs the system prompt sent with every completion.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))

	if cfg.ChannelID != "" {
		fmt.Fprintf(&b, "Channel: %s\n", cfg.ChannelID)
	}
	if cfg.UserName != "" {
		fmt.Fprintf(&b, "User: %s\n", cfg.UserName)
	}

	if len(cfg.Tools) > 0 {
		b.WriteString("\nTools you may call:\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}
