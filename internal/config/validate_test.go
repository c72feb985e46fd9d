package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, is := range issues {
		paths[i] = is.Path
	}
	return paths
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"negative port", func(c *Config) { c.Gateway.Port = -1 }, []string{"gateway.port"}},
		{"port too big", func(c *Config) { c.Gateway.Port = 70000 }, []string{"gateway.port"}},
		{"bad bind", func(c *Config) { c.Gateway.Bind = "everywhere" }, []string{"gateway.bind"}},
		{"custom bind needs host", func(c *Config) { c.Gateway.Bind = "custom" }, []string{"gateway.customBindHost"}},
		{"bad auth mode", func(c *Config) { c.Gateway.Auth.Mode = "magic" }, []string{"gateway.auth.mode"}},
		{"tls without files", func(c *Config) { c.Gateway.TLS.Enabled = true }, []string{"gateway.tls.certPath", "gateway.tls.keyPath"}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, []string{"logging.level"}},
		{"bad console style", func(c *Config) { c.Logging.ConsoleStyle = "fancy" }, []string{"logging.consoleStyle"}},
		{"bad scope", func(c *Config) { c.Session.Scope = "per-planet" }, []string{"session.scope"}},
		{"bad store", func(c *Config) { c.Session.Store = "redis" }, []string{"session.store"}},
		{"negative tool timeout", func(c *Config) { c.Tools.TimeoutSeconds = -5 }, []string{"tools.timeoutSeconds"}},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "gpt" }, []string{"backend.provider"}},
		{"fallback equals primary", func(c *Config) { c.Backend.Fallbacks = []string{"claude"} }, []string{"backend.fallbacks[0]"}},
		{"provider without command", func(c *Config) {
			c.Backend.Provider = "gemini"
			c.Backend.Providers = map[string]ProviderEntry{"gemini": {}}
		}, []string{"backend.providers.gemini.command"}},
		{"unknown hook event", func(c *Config) {
			c.Hooks = HooksConfig{"on_sunrise": {{Command: "true"}}}
		}, []string{"hooks.on_sunrise"}},
		{"irc missing fields", func(c *Config) { c.Channels.IRC = &IRCConfig{} }, []string{"channels.irc.server", "channels.irc.nick"}},
		{"irc sasl without password", func(c *Config) {
			c.Channels.IRC = &IRCConfig{Server: "irc.example.net", Nick: "bot", SASL: true}
		}, []string{"channels.irc.sasl"}},
		{"matrix missing fields", func(c *Config) { c.Channels.Matrix = &MatrixConfig{} }, []string{
			"channels.matrix.homeserver", "channels.matrix.userId", "channels.matrix.accessToken",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.ElementsMatch(t, tt.want, issuePaths(Validate(&cfg)))
		})
	}
}

func TestValidateValidChannels(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.IRC = &IRCConfig{Server: "irc.example.net", Nick: "bot", Port: 6697, SASL: true, Password: "pw"}
	cfg.Channels.Matrix = &MatrixConfig{Homeserver: "https://m.example.org", UserID: "@b:example.org", AccessToken: "t"}
	cfg.Hooks = HooksConfig{"chat_failed": {{Command: "logger failed"}}}
	assert.Empty(t, Validate(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad"}
	require.Equal(t, "gateway.port: bad", issue.String())
}
