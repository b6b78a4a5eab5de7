package aish

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/aish/default"
)

// Config represents the user's aish configuration.
type Config struct {
	Version int           `toml:"version"`
	Channel ChannelConfig `toml:"channel"`
	Context ContextConfig `toml:"context"`
	Log     LogConfig     `toml:"log"`
}

// ChannelConfig holds settings for the shell/kernel channel.
type ChannelConfig struct {
	HandshakeTimeoutMS int   `toml:"handshake_timeout_ms"`
	KernelTimeoutMS    int   `toml:"kernel_timeout_ms"`
	Prediction         *bool `toml:"prediction"`
}

// ContextConfig holds settings for the context shared with the kernel.
type ContextConfig struct {
	HistorySize      int   `toml:"history_size"`
	Redact           *bool `toml:"redact"`
	RedactTTLMinutes int   `toml:"redact_ttl_minutes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// ConfigDir returns the config directory path.
// Resolution order: $AISH_CONFIG_DIR > $XDG_CONFIG_HOME/aish > ~/.config/aish
func ConfigDir() string {
	if dir := os.Getenv("AISH_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "aish")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aish-config")
	}
	return filepath.Join(home, ".config", "aish")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("aish: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from ConfigPath or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields with defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String(), "path", path)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Channel.HandshakeTimeoutMS == 0 {
		cfg.Channel.HandshakeTimeoutMS = defaults.Channel.HandshakeTimeoutMS
	}
	if cfg.Channel.KernelTimeoutMS == 0 {
		cfg.Channel.KernelTimeoutMS = defaults.Channel.KernelTimeoutMS
	}
	if cfg.Channel.Prediction == nil {
		cfg.Channel.Prediction = defaults.Channel.Prediction
	}
	if cfg.Context.HistorySize == 0 {
		cfg.Context.HistorySize = defaults.Context.HistorySize
	}
	if cfg.Context.Redact == nil {
		cfg.Context.Redact = defaults.Context.Redact
	}
	if cfg.Context.RedactTTLMinutes == 0 {
		cfg.Context.RedactTTLMinutes = defaults.Context.RedactTTLMinutes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Channel.HandshakeTimeoutMS < 0 {
		warnings = append(warnings, "handshake_timeout_ms is negative; the default will be used")
	}
	if cfg.Channel.KernelTimeoutMS < 0 {
		warnings = append(warnings, "kernel_timeout_ms is negative; the default will be used")
	}
	if cfg.Context.HistorySize < 0 {
		warnings = append(warnings, "history_size is negative; no history will be shared")
	}
	if _, ok := parseLevel(cfg.Log.Level); !ok {
		warnings = append(warnings, "unknown log level "+strconv.Quote(cfg.Log.Level)+"; using info")
	}
	return warnings
}

// ResolveHandshakeTimeout returns how long the shell waits for the kernel.
// Priority: $AISH_HANDSHAKE_TIMEOUT_MS env > config value > 7s.
func ResolveHandshakeTimeout(cfg *Config) time.Duration {
	if ms := envMillis("AISH_HANDSHAKE_TIMEOUT_MS"); ms > 0 {
		return ms
	}
	if cfg != nil && cfg.Channel.HandshakeTimeoutMS > 0 {
		return time.Duration(cfg.Channel.HandshakeTimeoutMS) * time.Millisecond
	}
	return 7000 * time.Millisecond
}

// ResolveKernelTimeout returns how long the kernel waits for the shell.
// Priority: $AISH_KERNEL_TIMEOUT_MS env > config value > 5s.
func ResolveKernelTimeout(cfg *Config) time.Duration {
	if ms := envMillis("AISH_KERNEL_TIMEOUT_MS"); ms > 0 {
		return ms
	}
	if cfg != nil && cfg.Channel.KernelTimeoutMS > 0 {
		return time.Duration(cfg.Channel.KernelTimeoutMS) * time.Millisecond
	}
	return 5000 * time.Millisecond
}

// PredictionEnabled reports whether multi-block code posts feed the predictor.
// $AISH_PREDICTION ("0"/"false" or "1"/"true") overrides the config value.
func PredictionEnabled(cfg *Config) bool {
	if v := os.Getenv("AISH_PREDICTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if cfg == nil || cfg.Channel.Prediction == nil {
		return true // default true
	}
	return *cfg.Channel.Prediction
}

// RedactionEnabled reports whether shared command history is redacted.
func RedactionEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Context.Redact == nil {
		return true
	}
	return *cfg.Context.Redact
}

// LogLevel returns the configured slog level, defaulting to info.
func LogLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	level, _ := parseLevel(cfg.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func envMillis(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
