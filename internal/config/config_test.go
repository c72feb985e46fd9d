package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "claude", cfg.Backend.Provider)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "/", cfg.Channels.CommandPrefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "per-sender", cfg.Session.Scope)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, 30, cfg.Tools.TimeoutSeconds)
	assert.True(t, cfg.Gateway.MetricsEnabled())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
backend:
  model: sonnet
  systemPrompt: be brief
  fallbacks: [gemini]
  providers:
    gemini:
      command: gemini
      modelFlag: --model
      streamFlag: ["--format", "stream-json"]
gateway:
  port: 9999
  bind: lan
  metrics: false
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
session:
  scope: global
  store: memory
channels:
  irc:
    server: irc.libera.chat
    port: 6697
    nick: testbot
    channels:
      - "#general"
      - "#dev"
    useTLS: true
  matrix:
    homeserver: https://matrix.example.org
    userId: "@bot:example.org"
    accessToken: tok
hooks:
  chat_completed:
    - command: "notify-send done"
      timeout: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Backend.Provider)
	assert.Equal(t, "sonnet", cfg.Backend.Model)
	assert.Equal(t, "be brief", cfg.Backend.SystemPrompt)
	assert.Equal(t, []string{"gemini"}, cfg.Backend.Fallbacks)
	assert.Equal(t, "gemini", cfg.Backend.Providers["gemini"].Command)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.False(t, cfg.Gateway.MetricsEnabled())
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "global", cfg.Session.Scope)
	assert.Equal(t, "memory", cfg.Session.Store)

	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, "irc.libera.chat", cfg.Channels.IRC.Server)
	assert.Equal(t, []string{"#general", "#dev"}, cfg.Channels.IRC.Channels)
	require.NotNil(t, cfg.Channels.Matrix)
	assert.Equal(t, "@bot:example.org", cfg.Channels.Matrix.UserID)

	require.Len(t, cfg.Hooks["chat_completed"], 1)
	assert.Equal(t, 500, cfg.Hooks["chat_completed"][0].Timeout)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	data := `
[backend]
model = "opus"

[gateway]
port = 7777

[session]
scope = "global"

[channels.irc]
server = "irc.example.net"
nick = "parley"
channels = ["#ops"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Backend.Model)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "global", cfg.Session.Scope)
	assert.Equal(t, "sqlite", cfg.Session.Store, "unset fields keep defaults")
	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, []string{"#ops"}, cfg.Channels.IRC.Channels)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_GATEWAY_PORT", "12345")
	t.Setenv("PARLEY_LOG_LEVEL", "TRACE")
	t.Setenv("PARLEY_MODEL", "haiku")
	t.Setenv("PARLEY_SESSION_STORE", "MEMORY")
	t.Setenv("PARLEY_SESSION_SCOPE", "GLOBAL")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "haiku", cfg.Backend.Model)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, "global", cfg.Session.Scope)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("PARLEY_TEST_TOKEN", "s3cret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
gateway:
  auth:
    token: ${PARLEY_TEST_TOKEN}
channels:
  matrix:
    homeserver: https://m.example.org
    userId: "@b:example.org"
    accessToken: ${PARLEY_UNSET_VARIABLE}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Gateway.Auth.Token)
	assert.Equal(t, "${PARLEY_UNSET_VARIABLE}", cfg.Channels.Matrix.AccessToken)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			raw, err := LoadRaw(path)
			require.NoError(t, err)
			assert.Empty(t, raw)

			SetValueAtPath(raw, []string{"gateway", "bind"}, "lan")
			require.NoError(t, SaveRaw(path, raw))

			loaded, err := LoadRaw(path)
			require.NoError(t, err)
			val, ok := GetValueAtPath(loaded, []string{"gateway", "bind"})
			require.True(t, ok)
			assert.Equal(t, "lan", val)

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "lan", cfg.Gateway.Bind)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("PARLEY_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".parley"), paths.Base)
	assert.Equal(t, filepath.Join(home, ".parley", "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(home, ".parley", "logs"), paths.Logs)
	assert.Equal(t, filepath.Join(home, ".parley", "data"), paths.Data)
	assert.Equal(t, filepath.Join(home, ".parley", "data", "parley.db"), paths.Database())
}

func TestResolvePathsCustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PARLEY_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
}

func TestEnsureDirs(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PARLEY_HOME", filepath.Join(tmp, "home"))

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, d := range []string{paths.Base, paths.Logs, paths.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err, d)
		assert.True(t, info.IsDir())
	}
}

func TestIsSecretPath(t *testing.T) {
	assert.True(t, IsSecretPath("gateway.auth.token"))
	assert.True(t, IsSecretPath("channels.matrix.accessToken"))
	assert.False(t, IsSecretPath("gateway.port"))
}
