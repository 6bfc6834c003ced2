package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults, got error %v", err)
	}

	if cfg.Mode != "DRY_RUN" {
		t.Errorf("Expected DRY_RUN, got %s", cfg.Mode)
	}
	if cfg.MaxInvestment != 1_000_000 {
		t.Errorf("Expected max investment 1000000, got %d", cfg.MaxInvestment)
	}
	if cfg.TargetProfitRate != 0.01 {
		t.Errorf("Expected target profit 0.01, got %f", cfg.TargetProfitRate)
	}
	if cfg.BuyWindow() != 600*time.Second {
		t.Errorf("Expected 600s buy window, got %v", cfg.BuyWindow())
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("Expected 500ms poll interval, got %v", cfg.PollInterval())
	}
	if cfg.Kiwoom.ReconnectBackoffSeconds != 2 {
		t.Errorf("Expected 2s reconnect backoff, got %d", cfg.Kiwoom.ReconnectBackoffSeconds)
	}
	if cfg.Kiwoom.WSURL != LiveWSURL || cfg.Kiwoom.RESTURL != LiveRESTURL {
		t.Errorf("Expected live endpoints, got %s %s", cfg.Kiwoom.RESTURL, cfg.Kiwoom.WSURL)
	}
	if cfg.Persistence.Path != "daily_trading_lock.json" || cfg.Persistence.OnCorrupt != OnCorruptStartFresh {
		t.Errorf("Unexpected persistence defaults: %+v", cfg.Persistence)
	}
}

func TestLoadConfig_MockEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "mode: LIVE\nkiwoom:\n  use_mock: true\npersistence:\n  backend: sqlite\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Kiwoom.RESTURL != MockRESTURL || cfg.Kiwoom.WSURL != MockWSURL {
		t.Errorf("Expected mock endpoints, got %s %s", cfg.Kiwoom.RESTURL, cfg.Kiwoom.WSURL)
	}
	if cfg.Persistence.Path != "daytrader.db" {
		t.Errorf("Expected sqlite default path, got %s", cfg.Persistence.Path)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"mode":       "mode: PAPER\n",
		"profit":     "target_profit_rate: 1.5\n",
		"backend":    "persistence:\n  backend: redis\n",
		"on_corrupt": "persistence:\n  on_corrupt: ignore\n",
		"buy_window": "buy_window_seconds: -5\n",
		"poll":       "poll_interval_ms: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestTradingDateUsesExchangeZone(t *testing.T) {
	// 16:30 UTC on the 13th is 01:30 KST on the 14th.
	ts := time.Date(2026, 10, 13, 16, 30, 0, 0, time.UTC)
	if got := TradingDate(ts, KST); got != "20261014" {
		t.Errorf("Expected 20261014, got %s", got)
	}
}

func TestSecrets_ApplyOverrides(t *testing.T) {
	t.Setenv("USE_MOCK", "true")
	t.Setenv("MAX_INVESTMENT", "500000")
	t.Setenv("ACCOUNT_NO", "8012-3456")
	t.Setenv("KIWOOM_MOCK_APP_KEY", "mock-app")
	t.Setenv("KIWOOM_MOCK_SECRET_KEY", "mock-secret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	sec, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}
	if err := sec.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !cfg.Kiwoom.UseMock || cfg.Kiwoom.WSURL != MockWSURL {
		t.Errorf("Expected mock environment, got use_mock=%v ws=%s", cfg.Kiwoom.UseMock, cfg.Kiwoom.WSURL)
	}
	if cfg.MaxInvestment != 500000 || cfg.AccountNo != "8012-3456" {
		t.Errorf("Expected env overrides, got %d %s", cfg.MaxInvestment, cfg.AccountNo)
	}
	app, secret := sec.Credentials(cfg.Kiwoom.UseMock)
	if app != "mock-app" || secret != "mock-secret" {
		t.Errorf("Expected mock credentials, got %s %s", app, secret)
	}
}

func TestSecrets_RequireLive(t *testing.T) {
	cfg := &Config{Mode: "LIVE"}
	err := Secrets{}.RequireLive(cfg)
	if err == nil || !strings.Contains(err.Error(), "KIWOOM_APP_KEY") {
		t.Errorf("Expected missing credential error, got %v", err)
	}

	cfg.Mode = "DRY_RUN"
	if err := (Secrets{}).RequireLive(cfg); err != nil {
		t.Errorf("DRY_RUN should not need credentials, got %v", err)
	}
}

func TestConfig_ApplyFlags(t *testing.T) {
	load := func(t *testing.T) *Config {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("mode: LIVE\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cfg := load(t)
	if err := cfg.ApplyFlags(true, 90*time.Second); err != nil {
		t.Fatalf("ApplyFlags failed: %v", err)
	}
	if cfg.Mode != "DRY_RUN" {
		t.Errorf("Expected DRY_RUN to override LIVE, got %s", cfg.Mode)
	}
	if cfg.BuyWindowSeconds != 90 {
		t.Errorf("Expected 90s buy window, got %d", cfg.BuyWindowSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected overridden config to validate, got %v", err)
	}

	cfg = load(t)
	if err := cfg.ApplyFlags(false, 0); err != nil {
		t.Fatalf("ApplyFlags failed: %v", err)
	}
	if cfg.Mode != "LIVE" || cfg.BuyWindowSeconds != 600 {
		t.Errorf("Expected config untouched without flags, got %s %d", cfg.Mode, cfg.BuyWindowSeconds)
	}

	for _, window := range []time.Duration{500 * time.Millisecond, -time.Minute} {
		cfg = load(t)
		if err := cfg.ApplyFlags(false, window); err == nil {
			t.Errorf("Expected %s buy window to be rejected", window)
		}
		if cfg.BuyWindowSeconds != 600 {
			t.Errorf("Expected rejected window to leave 600, got %d", cfg.BuyWindowSeconds)
		}
	}
}
