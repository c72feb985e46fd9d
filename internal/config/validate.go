package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// HookEvents lists the event names hooks may subscribe to.
var HookEvents = []string{
	"message_received",
	"chat_started",
	"chat_completed",
	"chat_failed",
	"conversation_cleared",
	"gateway_start",
	"gateway_stop",
}

func oneOf(issues []ValidationIssue, path, value string, valid []string) []ValidationIssue {
	if value != "" && !slices.Contains(valid, value) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
		})
	}
	return issues
}

func portRange(issues []ValidationIssue, path string, port int) []ValidationIssue {
	if port < 0 || port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("port must be 0-65535, got %d", port),
		})
	}
	return issues
}

func required(issues []ValidationIssue, path, value string) []ValidationIssue {
	if value == "" {
		issues = append(issues, ValidationIssue{Path: path, Message: "required"})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Backend
	if cfg.Backend.Provider != "claude" {
		if _, ok := cfg.Backend.Providers[cfg.Backend.Provider]; !ok {
			issues = append(issues, ValidationIssue{
				Path:    "backend.provider",
				Message: fmt.Sprintf("unknown provider %q (use \"claude\" or define backend.providers.%s)", cfg.Backend.Provider, cfg.Backend.Provider),
			})
		}
	}
	for i, fb := range cfg.Backend.Fallbacks {
		if fb == cfg.Backend.Provider {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("backend.fallbacks[%d]", i),
				Message: "fallback duplicates the primary provider",
			})
		}
	}
	for name, p := range cfg.Backend.Providers {
		issues = required(issues, "backend.providers."+name+".command", p.Command)
	}

	// Gateway
	issues = portRange(issues, "gateway.port", cfg.Gateway.Port)
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" {
		issues = required(issues, "gateway.customBindHost", cfg.Gateway.CustomBindHost)
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password"})
	if cfg.Gateway.TLS.Enabled {
		issues = required(issues, "gateway.tls.certPath", cfg.Gateway.TLS.CertPath)
		issues = required(issues, "gateway.tls.keyPath", cfg.Gateway.TLS.KeyPath)
	}

	// Logging
	issues = oneOf(issues, "logging.level", cfg.Logging.Level,
		[]string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})

	// Session
	issues = oneOf(issues, "session.scope", cfg.Session.Scope, []string{"per-sender", "global"})
	issues = oneOf(issues, "session.store", cfg.Session.Store, []string{"sqlite", "memory"})

	// Tools
	if cfg.Tools.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "tools.timeoutSeconds",
			Message: "must not be negative",
		})
	}

	// Hooks
	for event := range cfg.Hooks {
		if !slices.Contains(HookEvents, event) {
			issues = append(issues, ValidationIssue{
				Path:    "hooks." + event,
				Message: fmt.Sprintf("unknown hook event, must be one of %v", HookEvents),
			})
		}
	}

	// IRC (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		issues = required(issues, "channels.irc.server", irc.Server)
		issues = required(issues, "channels.irc.nick", irc.Nick)
		issues = portRange(issues, "channels.irc.port", irc.Port)
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.sasl",
				Message: "SASL requires a password to be set",
			})
		}
	}

	// Matrix (only if configured)
	if mx := cfg.Channels.Matrix; mx != nil {
		issues = required(issues, "channels.matrix.homeserver", mx.Homeserver)
		issues = required(issues, "channels.matrix.userId", mx.UserID)
		issues = required(issues, "channels.matrix.accessToken", mx.AccessToken)
	}

	return issues
}
