package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	LiveRESTURL = "https://api.kiwoom.com"
	MockRESTURL = "https://mockapi.kiwoom.com"
	LiveWSURL   = "wss://api.kiwoom.com:10000/api/dostk/websocket"
	MockWSURL   = "wss://mockapi.kiwoom.com:10000/api/dostk/websocket"

	DefaultCandidateURL = "https://live.today-stock.kr/"
)

const (
	OnCorruptStartFresh = "start_fresh"
	OnCorruptHalt       = "halt"
)

type Config struct {
	Mode             string  `yaml:"mode"`
	AccountNo        string  `yaml:"account_no"`
	MaxInvestment    int64   `yaml:"max_investment"`
	TargetProfitRate float64 `yaml:"target_profit_rate"`
	Timezone         string  `yaml:"timezone"`
	BuyWindowSeconds int     `yaml:"buy_window_seconds"`
	PollIntervalMs   int     `yaml:"poll_interval_ms"`

	Kiwoom struct {
		UseMock                 bool    `yaml:"use_mock"`
		RESTURL                 string  `yaml:"rest_url"`
		WSURL                   string  `yaml:"ws_url"`
		LoginTimeoutSeconds     int     `yaml:"login_timeout_seconds"`
		ReconnectBackoffSeconds int     `yaml:"reconnect_backoff_seconds"`
		ReadTimeoutSeconds      int     `yaml:"read_timeout_seconds"`
		RateLimitPerSecond      float64 `yaml:"rate_limit_per_second"`
		TickBuffer              int     `yaml:"tick_buffer"`
	} `yaml:"kiwoom"`

	Candidate struct {
		URL                   string `yaml:"url"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
		BreakerFailures       uint32 `yaml:"breaker_failures"`
		BreakerTimeoutSeconds int    `yaml:"breaker_timeout_seconds"`
	} `yaml:"candidate"`

	Persistence struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		OnCorrupt string `yaml:"on_corrupt"`
	} `yaml:"persistence"`

	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.MaxInvestment <= 0 {
		return fmt.Errorf("max_investment must be positive, got %d", c.MaxInvestment)
	}
	if c.TargetProfitRate <= 0 || c.TargetProfitRate >= 1 {
		return fmt.Errorf("target_profit_rate must be between 0 and 1, got %.4f", c.TargetProfitRate)
	}
	if c.Persistence.Backend != "file" && c.Persistence.Backend != "sqlite" {
		return fmt.Errorf("persistence.backend must be 'file' or 'sqlite', got '%s'", c.Persistence.Backend)
	}
	if c.Persistence.OnCorrupt != OnCorruptStartFresh && c.Persistence.OnCorrupt != OnCorruptHalt {
		return fmt.Errorf("persistence.on_corrupt must be '%s' or '%s', got '%s'",
			OnCorruptStartFresh, OnCorruptHalt, c.Persistence.OnCorrupt)
	}
	if c.Persistence.Path == "" {
		return errors.New("persistence.path cannot be empty")
	}
	if c.BuyWindowSeconds < 1 {
		return fmt.Errorf("buy_window_seconds must be at least 1, got %d", c.BuyWindowSeconds)
	}
	if c.PollIntervalMs < 1 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil && c.Timezone != "KST" {
		return fmt.Errorf("unknown timezone '%s': %w", c.Timezone, err)
	}
	return nil
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.MaxInvestment == 0 {
		c.MaxInvestment = 1_000_000
	}
	if c.TargetProfitRate == 0 {
		c.TargetProfitRate = 0.01
	}
	if c.Timezone == "" {
		c.Timezone = "KST"
	}
	if c.BuyWindowSeconds == 0 {
		c.BuyWindowSeconds = 600
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = 500
	}

	k := &c.Kiwoom
	if k.RESTURL == "" {
		k.RESTURL = LiveRESTURL
		if k.UseMock {
			k.RESTURL = MockRESTURL
		}
	}
	if k.WSURL == "" {
		k.WSURL = LiveWSURL
		if k.UseMock {
			k.WSURL = MockWSURL
		}
	}
	if k.LoginTimeoutSeconds == 0 {
		k.LoginTimeoutSeconds = 10
	}
	if k.ReconnectBackoffSeconds == 0 {
		k.ReconnectBackoffSeconds = 2
	}
	if k.ReadTimeoutSeconds == 0 {
		k.ReadTimeoutSeconds = 120
	}
	if k.RateLimitPerSecond == 0 {
		k.RateLimitPerSecond = 5
	}
	if k.TickBuffer == 0 {
		k.TickBuffer = 256
	}

	if c.Candidate.URL == "" {
		c.Candidate.URL = DefaultCandidateURL
	}
	if c.Candidate.RequestTimeoutSeconds == 0 {
		c.Candidate.RequestTimeoutSeconds = 5
	}
	if c.Candidate.BreakerFailures == 0 {
		c.Candidate.BreakerFailures = 5
	}
	if c.Candidate.BreakerTimeoutSeconds == 0 {
		c.Candidate.BreakerTimeoutSeconds = 10
	}

	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "file"
	}
	if c.Persistence.Path == "" {
		if c.Persistence.Backend == "sqlite" {
			c.Persistence.Path = "daytrader.db"
		} else {
			c.Persistence.Path = "daily_trading_lock.json"
		}
	}
	if c.Persistence.OnCorrupt == "" {
		c.Persistence.OnCorrupt = OnCorruptStartFresh
	}

	if c.Journal.Dir == "" {
		c.Journal.Dir = "trading_results"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9108"
	}
}

// Location returns the exchange time zone used to derive the trading date.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "KST" {
		return KST
	}
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return KST
}

func (c *Config) ProfitTarget() decimal.Decimal {
	return decimal.NewFromFloat(c.TargetProfitRate)
}

func (c *Config) BuyWindow() time.Duration {
	return time.Duration(c.BuyWindowSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ApplyFlags sets the command-line overrides. A buy window below one second
// is rejected; longer windows are truncated to whole seconds. Callers
// validate afterwards.
func (c *Config) ApplyFlags(dryRun bool, buyWindow time.Duration) error {
	if dryRun {
		c.Mode = "DRY_RUN"
	}
	if buyWindow != 0 {
		if buyWindow < time.Second {
			return fmt.Errorf("--buy-window must be at least 1s, got %s", buyWindow)
		}
		c.BuyWindowSeconds = int(buyWindow / time.Second)
	}
	return nil
}

// KST is Korea Standard Time (UTC+9, no DST).
var KST = time.FixedZone("KST", 9*3600)

// TradingDate formats t as the yyyyMMdd date in loc.
func TradingDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("20060102")
}

// LoadConfig reads a yaml file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var c Config

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
