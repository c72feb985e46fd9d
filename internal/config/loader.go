package config

import (
	"bytes"
	"cmp"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	if cfg.Channels.Matrix != nil {
		cfg.Channels.Matrix.AccessToken = expandEnvVars(cfg.Channels.Matrix.AccessToken)
	}
}

// isTOML reports whether path should be decoded as TOML rather than YAML.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, v any) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), v)
		return err
	}
	return yaml.Unmarshal(data, v)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only. Files ending in
// .toml are parsed as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := decode(path, data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := decode(path, data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to the config file in its own format.
func SaveRaw(path string, raw map[string]any) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(raw)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills settings a config file left empty.
func applyDefaults(cfg *Config) {
	def := Defaults()
	cfg.Backend.Provider = cmp.Or(cfg.Backend.Provider, def.Backend.Provider)
	cfg.Gateway.Port = cmp.Or(cfg.Gateway.Port, def.Gateway.Port)
	cfg.Gateway.Bind = cmp.Or(cfg.Gateway.Bind, def.Gateway.Bind)
	cfg.Gateway.Auth.Mode = cmp.Or(cfg.Gateway.Auth.Mode, def.Gateway.Auth.Mode)
	cfg.Channels.CommandPrefix = cmp.Or(cfg.Channels.CommandPrefix, def.Channels.CommandPrefix)
	cfg.Logging.Level = cmp.Or(cfg.Logging.Level, def.Logging.Level)
	cfg.Logging.ConsoleStyle = cmp.Or(cfg.Logging.ConsoleStyle, def.Logging.ConsoleStyle)
	cfg.Session.Scope = cmp.Or(cfg.Session.Scope, def.Session.Scope)
	cfg.Session.Store = cmp.Or(cfg.Session.Store, def.Session.Store)
	cfg.Tools.TimeoutSeconds = cmp.Or(cfg.Tools.TimeoutSeconds, def.Tools.TimeoutSeconds)
}

// envOverrides maps PARLEY_* variables onto the settings they replace.
var envOverrides = map[string]func(cfg *Config, v string){
	"PARLEY_GATEWAY_PORT": func(cfg *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	},
	"PARLEY_GATEWAY_BIND":  func(cfg *Config, v string) { cfg.Gateway.Bind = v },
	"PARLEY_GATEWAY_TOKEN": func(cfg *Config, v string) { cfg.Gateway.Auth.Token = v },
	"PARLEY_LOG_LEVEL":     func(cfg *Config, v string) { cfg.Logging.Level = strings.ToLower(v) },
	"PARLEY_MODEL":         func(cfg *Config, v string) { cfg.Backend.Model = v },
	"PARLEY_SESSION_STORE": func(cfg *Config, v string) { cfg.Session.Store = strings.ToLower(v) },
	"PARLEY_SESSION_SCOPE": func(cfg *Config, v string) { cfg.Session.Scope = strings.ToLower(v) },
	"PARLEY_BACKEND":       func(cfg *Config, v string) { cfg.Backend.Provider = strings.ToLower(v) },
}

func applyEnvOverrides(cfg *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(cfg, v)
		}
	}
}
