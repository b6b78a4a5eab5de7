package aish

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDirFromAISH_CONFIG_DIR(t *testing.T) {
	t.Setenv("AISH_CONFIG_DIR", "/custom/aish")
	if got := ConfigDir(); got != "/custom/aish" {
		t.Errorf("expected /custom/aish, got %s", got)
	}
}

func TestConfigDirFromXDG(t *testing.T) {
	t.Setenv("AISH_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/aish" {
		t.Errorf("expected /xdg/aish, got %s", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Channel.HandshakeTimeoutMS != 7000 {
		t.Errorf("expected handshake timeout 7000, got %d", cfg.Channel.HandshakeTimeoutMS)
	}
	if cfg.Channel.Prediction == nil || !*cfg.Channel.Prediction {
		t.Error("expected prediction enabled by default")
	}
	if cfg.Context.HistorySize <= 0 {
		t.Errorf("expected positive history size, got %d", cfg.Context.HistorySize)
	}
	if w := ValidateConfig(cfg); len(w) != 0 {
		t.Errorf("expected no warnings for defaults, got %v", w)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("AISH_CONFIG_DIR", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.HandshakeTimeoutMS != DefaultConfig().Channel.HandshakeTimeoutMS {
		t.Errorf("expected default timeout, got %d", cfg.Channel.HandshakeTimeoutMS)
	}
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[channel]\nhandshake_timeout_ms = 1500\nprediction = false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.HandshakeTimeoutMS != 1500 {
		t.Errorf("expected 1500, got %d", cfg.Channel.HandshakeTimeoutMS)
	}
	if PredictionEnabled(cfg) {
		t.Error("expected prediction disabled")
	}
	if cfg.Channel.KernelTimeoutMS != 5000 {
		t.Errorf("expected default kernel timeout 5000, got %d", cfg.Channel.KernelTimeoutMS)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level, got %q", cfg.Log.Level)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[channel\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolveHandshakeTimeout(t *testing.T) {
	t.Setenv("AISH_HANDSHAKE_TIMEOUT_MS", "")
	if got := ResolveHandshakeTimeout(nil); got != 7*time.Second {
		t.Errorf("expected 7s, got %s", got)
	}

	cfg := DefaultConfig()
	cfg.Channel.HandshakeTimeoutMS = 250
	if got := ResolveHandshakeTimeout(cfg); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", got)
	}

	t.Setenv("AISH_HANDSHAKE_TIMEOUT_MS", "900")
	if got := ResolveHandshakeTimeout(cfg); got != 900*time.Millisecond {
		t.Errorf("expected env override 900ms, got %s", got)
	}

	t.Setenv("AISH_HANDSHAKE_TIMEOUT_MS", "bogus")
	if got := ResolveHandshakeTimeout(cfg); got != 250*time.Millisecond {
		t.Errorf("expected invalid env to be ignored, got %s", got)
	}
}

func TestPredictionEnabledEnvOverride(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("AISH_PREDICTION", "false")
	if PredictionEnabled(cfg) {
		t.Error("expected env to disable prediction")
	}
	t.Setenv("AISH_PREDICTION", "")
	if !PredictionEnabled(cfg) {
		t.Error("expected config value to enable prediction")
	}
}

func TestValidateConfigWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channel.HandshakeTimeoutMS = -1
	cfg.Log.Level = "chatty"
	if w := ValidateConfig(cfg); len(w) != 2 {
		t.Errorf("expected 2 warnings, got %v", w)
	}
	if ValidateConfig(nil) != nil {
		t.Error("expected nil warnings for nil config")
	}
}

func TestLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	if got := LogLevel(cfg); got != slog.LevelDebug {
		t.Errorf("expected debug, got %s", got)
	}
	cfg.Log.Level = "chatty"
	if got := LogLevel(cfg); got != slog.LevelInfo {
		t.Errorf("expected info fallback, got %s", got)
	}
}
