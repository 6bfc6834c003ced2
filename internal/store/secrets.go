package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Secrets are read from the process environment only, never from yaml.
type Secrets struct {
	AppKey        string `env:"KIWOOM_APP_KEY"`
	SecretKey     string `env:"KIWOOM_SECRET_KEY"`
	MockAppKey    string `env:"KIWOOM_MOCK_APP_KEY"`
	MockSecretKey string `env:"KIWOOM_MOCK_SECRET_KEY"`

	UseMock       string `env:"USE_MOCK"`
	AccountNo     string `env:"ACCOUNT_NO"`
	MaxInvestment int64  `env:"MAX_INVESTMENT"`
}

// LoadSecrets parses Secrets from the environment.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse environment: %w", err)
	}
	return s, nil
}

// Credentials returns the app key pair for the selected environment.
func (s Secrets) Credentials(mock bool) (appKey, secretKey string) {
	if mock {
		return s.MockAppKey, s.MockSecretKey
	}
	return s.AppKey, s.SecretKey
}

// Apply lets environment values override the yaml config. Broker URLs are
// re-derived when USE_MOCK flips the environment and no explicit URL was set.
func (s Secrets) Apply(c *Config) error {
	if s.UseMock != "" {
		mock, err := strconv.ParseBool(strings.TrimSpace(s.UseMock))
		if err != nil {
			return fmt.Errorf("USE_MOCK: %w", err)
		}
		if mock != c.Kiwoom.UseMock {
			c.Kiwoom.UseMock = mock
			if c.Kiwoom.RESTURL == LiveRESTURL || c.Kiwoom.RESTURL == MockRESTURL {
				c.Kiwoom.RESTURL = ""
			}
			if c.Kiwoom.WSURL == LiveWSURL || c.Kiwoom.WSURL == MockWSURL {
				c.Kiwoom.WSURL = ""
			}
			c.ApplyDefaults()
		}
	}
	if s.AccountNo != "" {
		c.AccountNo = s.AccountNo
	}
	if s.MaxInvestment > 0 {
		c.MaxInvestment = s.MaxInvestment
	}
	return c.Validate()
}

// RequireLive checks that LIVE mode has credentials for the chosen environment.
func (s Secrets) RequireLive(c *Config) error {
	if c.Mode != "LIVE" {
		return nil
	}
	appKey, secretKey := s.Credentials(c.Kiwoom.UseMock)
	if appKey == "" || secretKey == "" {
		prefix := "KIWOOM_"
		if c.Kiwoom.UseMock {
			prefix = "KIWOOM_MOCK_"
		}
		return fmt.Errorf("LIVE mode requires %sAPP_KEY and %sSECRET_KEY", prefix, prefix)
	}
	return nil
}
