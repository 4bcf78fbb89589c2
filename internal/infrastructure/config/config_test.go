package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[instruments]
list = ["btc-usdt-swap", "BTC-USDT-SWAP", "eth-usdt-swap"]

[agent]
base_url = "http://127.0.0.1:8100"

[storage.sqlite]
enabled = true
path = "data/test.db"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Instruments.List; len(got) != 2 || got[0] != "BTC-USDT-SWAP" || got[1] != "ETH-USDT-SWAP" {
		t.Errorf("instruments not normalized/deduplicated: %v", got)
	}
	if cfg.ScheduleInterval() != 15*time.Minute {
		t.Errorf("default schedule interval wrong: %v", cfg.ScheduleInterval())
	}
	if cfg.Volatility.ThresholdBps != 50 {
		t.Errorf("default threshold wrong: %v", cfg.Volatility.ThresholdBps)
	}
	if cfg.AnalysisTimeout() != 2*time.Minute {
		t.Errorf("default analysis timeout wrong: %v", cfg.AnalysisTimeout())
	}
	if cfg.ReconnectDelay() != 5*time.Second {
		t.Errorf("default reconnect delay wrong: %v", cfg.ReconnectDelay())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Errorf("default sweep interval wrong: %v", cfg.SweepInterval())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OKX_API_KEY", "env-key")
	t.Setenv("AGENT_BASE_URL", "http://agent.internal:9000")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Exchange.OKX.APIKey != "env-key" {
		t.Errorf("api key not taken from env: %q", cfg.Exchange.OKX.APIKey)
	}
	if cfg.Agent.BaseURL != "http://agent.internal:9000" {
		t.Errorf("agent url not taken from env: %q", cfg.Agent.BaseURL)
	}
}

func TestLoadRejectsEmptyInstruments(t *testing.T) {
	body := `
[instruments]
list = []

[agent]
base_url = "http://127.0.0.1:8100"

[storage.sqlite]
enabled = true
path = "data/test.db"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for empty instrument list")
	}
}

func TestLoadRejectsMissingAgentURL(t *testing.T) {
	body := `
[instruments]
list = ["BTC-USDT-SWAP"]

[storage.sqlite]
enabled = true
path = "data/test.db"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for missing agent base url")
	}
}

func TestLoadRequiresDurableStorage(t *testing.T) {
	body := `
[instruments]
list = ["BTC-USDT-SWAP"]

[agent]
base_url = "http://127.0.0.1:8100"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error when no durable storage backend enabled")
	}
}
