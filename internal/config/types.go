package config

// Config is the root configuration for parley.
type Config struct {
	Backend  BackendConfig  `yaml:"backend,omitempty" toml:"backend"`
	Gateway  GatewayConfig  `yaml:"gateway,omitempty" toml:"gateway"`
	Channels ChannelsConfig `yaml:"channels,omitempty" toml:"channels"`
	Session  SessionConfig  `yaml:"session,omitempty" toml:"session"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" toml:"logging"`
	Tools    ToolsConfig    `yaml:"tools,omitempty" toml:"tools"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty" toml:"hooks"`
}

// BackendConfig selects and configures the AI backend CLI.
type BackendConfig struct {
	Provider     string                   `yaml:"provider,omitempty" toml:"provider"` // "claude" | name of an entry in Providers
	Command      string                   `yaml:"command,omitempty" toml:"command"`   // binary override for the claude provider
	Model        string                   `yaml:"model,omitempty" toml:"model"`
	SystemPrompt string                   `yaml:"systemPrompt,omitempty" toml:"systemPrompt"`
	AllowedTools []string                 `yaml:"allowedTools,omitempty" toml:"allowedTools"`
	Fallbacks    []string                 `yaml:"fallbacks,omitempty" toml:"fallbacks"`
	Providers    map[string]ProviderEntry `yaml:"providers,omitempty" toml:"providers"`
}

// ProviderEntry describes a generic NDJSON-speaking CLI backend.
type ProviderEntry struct {
	Command         string   `yaml:"command" toml:"command"`
	BaseArgs        []string `yaml:"baseArgs,omitempty" toml:"baseArgs"`
	ModelFlag       string   `yaml:"modelFlag,omitempty" toml:"modelFlag"`
	SystemFlag      string   `yaml:"systemFlag,omitempty" toml:"systemFlag"`
	StreamFlag      []string `yaml:"streamFlag,omitempty" toml:"streamFlag"`
	StreamTextField string   `yaml:"streamTextField,omitempty" toml:"streamTextField"`
	ResultField     string   `yaml:"resultField,omitempty" toml:"resultField"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty" toml:"port"`
	Bind           string      `yaml:"bind,omitempty" toml:"bind"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty" toml:"customBindHost"`
	Auth           GatewayAuth `yaml:"auth,omitempty" toml:"auth"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty" toml:"allowedOrigins"`
	Metrics        *bool       `yaml:"metrics,omitempty" toml:"metrics"` // serve /metrics; defaults to true
	TLS            GatewayTLS  `yaml:"tls,omitempty" toml:"tls"`
}

// GatewayTLS enables TLS on the gateway listener.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty" toml:"enabled"`
	CertPath string `yaml:"certPath,omitempty" toml:"certPath"`
	KeyPath  string `yaml:"keyPath,omitempty" toml:"keyPath"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty" toml:"mode"` // "token" | "password"
	Token    string `yaml:"token,omitempty" toml:"token"`
	Password string `yaml:"password,omitempty" toml:"password"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	CommandPrefix string        `yaml:"commandPrefix,omitempty" toml:"commandPrefix"`
	IRC           *IRCConfig    `yaml:"irc,omitempty" toml:"irc"`
	Matrix        *MatrixConfig `yaml:"matrix,omitempty" toml:"matrix"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server      string   `yaml:"server" toml:"server"`
	Port        int      `yaml:"port,omitempty" toml:"port"`
	Nick        string   `yaml:"nick" toml:"nick"`
	Password    string   `yaml:"password,omitempty" toml:"password"`
	Channels    []string `yaml:"channels" toml:"channels"`
	UseTLS      bool     `yaml:"useTLS,omitempty" toml:"useTLS"`
	SASL        bool     `yaml:"sasl,omitempty" toml:"sasl"`
	OpOnly      bool     `yaml:"opOnly,omitempty" toml:"opOnly"` // restrict channel messages to operators
	Owner       string   `yaml:"owner,omitempty" toml:"owner"`   // only accept messages from this nick
	ToolNotices bool     `yaml:"toolNotices,omitempty" toml:"toolNotices"`
}

// MatrixConfig defines Matrix channel settings.
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"userId" toml:"userId"`
	AccessToken  string   `yaml:"accessToken" toml:"accessToken"`
	AllowedRooms []string `yaml:"allowedRooms,omitempty" toml:"allowedRooms"`
	ToolNotices  bool     `yaml:"toolNotices,omitempty" toml:"toolNotices"`
}

// SessionConfig defines how conversations are keyed and stored.
type SessionConfig struct {
	Scope     string `yaml:"scope,omitempty" toml:"scope"` // "per-sender" | "global"
	Store     string `yaml:"store,omitempty" toml:"store"` // "sqlite" | "memory"
	Path      string `yaml:"path,omitempty" toml:"path"`   // sqlite file; defaults to <data>/parley.db
	Serialize bool   `yaml:"serialize,omitempty" toml:"serialize"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty" toml:"level"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty" toml:"file"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty" toml:"consoleStyle"` // "pretty" | "compact" | "json"
}

// ToolsConfig controls in-process tool execution.
type ToolsConfig struct {
	Enabled        []string `yaml:"enabled,omitempty" toml:"enabled"` // empty means all built-ins
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds"`
}

// HooksConfig maps hook event names to shell commands.
type HooksConfig map[string][]HookEntry

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command" toml:"command"`
	Timeout int    `yaml:"timeout,omitempty" toml:"timeout"` // milliseconds
}
