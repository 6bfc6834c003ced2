package kiwoom

import (
	"time"

	"daytrader/internal/api"
	"daytrader/internal/broker/brokerobs"
	"daytrader/internal/interfaces"
	"daytrader/internal/metrics"
	"daytrader/internal/store"
)

// NewRESTClient builds the rate-limited client shared by token and order calls.
func NewRESTClient(cfg *store.Config) *api.Client {
	return api.NewClient(
		api.WithBaseURL(cfg.Kiwoom.RESTURL),
		api.WithTimeout(10*time.Second),
		api.WithRateLimit(cfg.Kiwoom.RateLimitPerSecond),
		api.WithLogging(true),
	)
}

// NewTokens returns the credential source for the configured environment.
func NewTokens(cfg *store.Config, secrets store.Secrets, client *api.Client) *TokenSource {
	appKey, secretKey := secrets.Credentials(cfg.Kiwoom.UseMock)
	return NewTokenSource(client, appKey, secretKey)
}

// NewExecutor picks the simulated executor in DRY_RUN and the REST order
// client in LIVE, wrapped with observability either way.
func NewExecutor(cfg *store.Config, client *api.Client, tokens TokenProvider, m *metrics.Metrics) interfaces.OrderExecutor {
	var exec interfaces.OrderExecutor
	if cfg.Mode == "LIVE" {
		exec = NewOrderClient(client, tokens)
	} else {
		exec = NewSimulatedExecutor()
	}
	return brokerobs.Wrap(exec, m)
}

func NewMarketData(cfg *store.Config, tokens TokenProvider, m *metrics.Metrics) *TickerSession {
	k := cfg.Kiwoom
	return NewTickerSession(k.WSURL, tokens, SessionOptions{
		LoginTimeout:     time.Duration(k.LoginTimeoutSeconds) * time.Second,
		ReconnectBackoff: time.Duration(k.ReconnectBackoffSeconds) * time.Second,
		ReadTimeout:      time.Duration(k.ReadTimeoutSeconds) * time.Second,
		TickBuffer:       k.TickBuffer,
		Metrics:          m,
	})
}
