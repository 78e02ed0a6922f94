// Package config loads gateway configuration from the environment with
// an optional YAML overlay file. Environment values are the defaults;
// non-zero file values win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Upstream backend credentials.
	GeminiAPIKey string
	ChatAPIKey   string
	ChatBaseURL  string

	// Session defaults, overridable per start frame.
	DefaultNativeModel string
	DefaultTurnModel   string
	DefaultVoice       string

	// Macro persistence.
	MacroDBPath string

	// WebSocket tuning.
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSMaxMessageBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	MetricsNamespace    string
}

// fileConfig is the YAML overlay shape. Zero values leave the
// environment defaults untouched.
type fileConfig struct {
	Addr               string   `yaml:"addr"`
	AuthMode           string   `yaml:"auth_mode"`
	APIKeys            []string `yaml:"api_keys"`
	GeminiAPIKey       string   `yaml:"gemini_api_key"`
	ChatAPIKey         string   `yaml:"chat_api_key"`
	ChatBaseURL        string   `yaml:"chat_base_url"`
	DefaultNativeModel string   `yaml:"default_native_model"`
	DefaultTurnModel   string   `yaml:"default_turn_model"`
	DefaultVoice       string   `yaml:"default_voice"`
	MacroDBPath        string   `yaml:"macro_db_path"`
	WSPingInterval     string   `yaml:"ws_ping_interval"`
	WSWriteTimeout     string   `yaml:"ws_write_timeout"`
	WSMaxMessageBytes  int64    `yaml:"ws_max_message_bytes"`
	ShutdownGrace      string   `yaml:"shutdown_grace_period"`
	MetricsNamespace   string   `yaml:"metrics_namespace"`
}

// Load builds the configuration from the environment, overlaying the
// YAML file at path when path is non-empty.
func Load(path string) (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXDECK_ADDR", ":8089"),
		AuthMode:            AuthMode(envOr("VOXDECK_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		ChatAPIKey:          envOr("OPENAI_API_KEY", ""),
		ChatBaseURL:         envOr("VOXDECK_CHAT_BASE_URL", ""),
		DefaultNativeModel:  envOr("VOXDECK_NATIVE_MODEL", ""),
		DefaultTurnModel:    envOr("VOXDECK_TURN_MODEL", ""),
		DefaultVoice:        envOr("VOXDECK_VOICE", ""),
		MacroDBPath:         envOr("VOXDECK_MACRO_DB", "voxdeck.db"),
		WSPingInterval:      envDurationOr("VOXDECK_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VOXDECK_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:   envInt64Or("VOXDECK_WS_MAX_MESSAGE_BYTES", 1<<20),
		ReadHeaderTimeout:   envDurationOr("VOXDECK_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXDECK_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:    envOr("VOXDECK_METRICS_NAMESPACE", "voxdeck"),
	}
	for _, key := range splitCSV(os.Getenv("VOXDECK_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.validate()
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setStr(&cfg.Addr, file.Addr)
	setStr(&cfg.GeminiAPIKey, file.GeminiAPIKey)
	setStr(&cfg.ChatAPIKey, file.ChatAPIKey)
	setStr(&cfg.ChatBaseURL, file.ChatBaseURL)
	setStr(&cfg.DefaultNativeModel, file.DefaultNativeModel)
	setStr(&cfg.DefaultTurnModel, file.DefaultTurnModel)
	setStr(&cfg.DefaultVoice, file.DefaultVoice)
	setStr(&cfg.MacroDBPath, file.MacroDBPath)
	setStr(&cfg.MetricsNamespace, file.MetricsNamespace)

	if file.AuthMode != "" {
		cfg.AuthMode = AuthMode(file.AuthMode)
	}
	for _, key := range file.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			cfg.APIKeys[key] = struct{}{}
		}
	}
	if file.WSMaxMessageBytes > 0 {
		cfg.WSMaxMessageBytes = file.WSMaxMessageBytes
	}

	setDur := func(dst *time.Duration, v string) error {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*dst = d
		return nil
	}
	if err := setDur(&cfg.WSPingInterval, file.WSPingInterval); err != nil {
		return err
	}
	if err := setDur(&cfg.WSWriteTimeout, file.WSWriteTimeout); err != nil {
		return err
	}
	return setDur(&cfg.ShutdownGracePeriod, file.ShutdownGrace)
}

func (cfg Config) validate() error {
	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("auth mode must be one of required|optional|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return fmt.Errorf("VOXDECK_API_KEYS must be set when auth mode is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("VOXDECK_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.MacroDBPath) == "" {
		return fmt.Errorf("VOXDECK_MACRO_DB must not be empty")
	}
	if cfg.WSPingInterval <= 0 {
		return fmt.Errorf("VOXDECK_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("VOXDECK_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("VOXDECK_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VOXDECK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VOXDECK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
