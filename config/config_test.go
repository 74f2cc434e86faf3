package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port = %d, want 8088", cfg.Server.Port)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("Engine.Workers = %d, want 4", cfg.Engine.Workers)
	}
	if cfg.Engine.LeadingSymbol != "BTCUSDT" {
		t.Errorf("Engine.LeadingSymbol = %s, want BTCUSDT", cfg.Engine.LeadingSymbol)
	}
	if cfg.Database.Enabled || cfg.Redis.Enabled || cfg.Vault.Enabled {
		t.Error("optional integrations must default to disabled")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("ENGINE_WORKERS", "8")
	t.Setenv("ENGINE_LEADING_SYMBOL", "ETHUSDT")
	t.Setenv("WEB_PORT", "9000")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_TOKEN_DURATION", "1h")
	t.Setenv("LOG_JSON", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Workers != 8 {
		t.Errorf("Engine.Workers = %d, want 8", cfg.Engine.Workers)
	}
	if cfg.Engine.LeadingSymbol != "ETHUSDT" {
		t.Errorf("Engine.LeadingSymbol = %s, want ETHUSDT", cfg.Engine.LeadingSymbol)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled {
		t.Error("Auth.Enabled = false, want true")
	}
	if cfg.Auth.TokenDuration != time.Hour {
		t.Errorf("Auth.TokenDuration = %s, want 1h", cfg.Auth.TokenDuration)
	}
	if cfg.Logging.JSONFormat {
		t.Error("Logging.JSONFormat = true, want false")
	}
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("ENGINE_WORKERS", "many")
	t.Setenv("ENGINE_INITIAL_CAPITAL", "lots")
	t.Setenv("AUTH_TOKEN_DURATION", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Workers != 4 {
		t.Errorf("Engine.Workers = %d, want default 4", cfg.Engine.Workers)
	}
	if cfg.Engine.InitialCapital != 10000 {
		t.Errorf("Engine.InitialCapital = %v, want default 10000", cfg.Engine.InitialCapital)
	}
	if cfg.Auth.TokenDuration != 15*time.Minute {
		t.Errorf("Auth.TokenDuration = %s, want default 15m", cfg.Auth.TokenDuration)
	}
}

func TestGenerateSampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config is not valid JSON: %v", err)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("sample Server.Port = %d, want 8088", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled {
		t.Error("sample Auth.Enabled = false, want true")
	}
	if cfg.Engine.Sizing.KellyFraction != 0.25 {
		t.Errorf("sample Engine.Sizing.KellyFraction = %v, want 0.25", cfg.Engine.Sizing.KellyFraction)
	}
}
