package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"daytrader/internal/broker/kiwoom"
	"daytrader/internal/engine"
	"daytrader/internal/engine/engineobs"
	"daytrader/internal/eod"
	"daytrader/internal/eod/eodobs"
	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/metrics"
	"daytrader/internal/scraper"
	"daytrader/internal/store"
	"daytrader/internal/trace"
	"daytrader/internal/tradelog"
)

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// loadConfig reads the yaml config, applies the command-line flags and the
// environment overrides, then validates.
func loadConfig(ctx context.Context, path string, dryRun bool, buyWindow time.Duration) (*store.Config, store.Secrets, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, store.Secrets{}, err
	}

	if err := cfg.ApplyFlags(dryRun, buyWindow); err != nil {
		return nil, store.Secrets{}, err
	}

	secrets, err := store.LoadSecrets()
	if err != nil {
		return nil, store.Secrets{}, err
	}
	// Apply validates the config with every override in place.
	if err := secrets.Apply(cfg); err != nil {
		return nil, store.Secrets{}, err
	}
	if err := secrets.RequireLive(cfg); err != nil {
		return nil, store.Secrets{}, err
	}
	return cfg, secrets, nil
}

// Past days summarised at startup when the backend keeps them.
const historyDays = 10

// system is everything one trading day needs.
type system struct {
	cfg         *store.Config
	store       interfaces.SessionStore
	market      interfaces.MarketData
	journal     *tradelog.Journal
	eod         interfaces.EodSummarizer
	engine      interfaces.Engine
	stopMetrics func()
}

func initializeComponents(ctx context.Context, cfg *store.Config, secrets store.Secrets) (*system, error) {
	var m *metrics.Metrics
	stopMetrics := func() {}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		stopMetrics = m.Serve(ctx, cfg.Metrics.Addr)
	}

	st, err := store.NewSessionStore(cfg)
	if err != nil {
		stopMetrics()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	store.LogRecentHistory(ctx, st, historyDays)

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}
	logger.Info(ctx, "Broker environment",
		"mock", cfg.Kiwoom.UseMock,
		"rest_url", cfg.Kiwoom.RESTURL,
		"ws_url", cfg.Kiwoom.WSURL,
	)

	client := kiwoom.NewRESTClient(cfg)
	tokens := kiwoom.NewTokens(cfg, secrets, client)
	executor := kiwoom.NewExecutor(cfg, client, tokens, m)
	market := kiwoom.NewMarketData(cfg, tokens, m)

	candidates := scraper.NewPageScraper(cfg.Candidate.URL, scraper.Options{
		Timeout:         time.Duration(cfg.Candidate.RequestTimeoutSeconds) * time.Second,
		BreakerFailures: cfg.Candidate.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.Candidate.BreakerTimeoutSeconds) * time.Second,
		Metrics:         m,
	})

	journal := tradelog.New(cfg.Journal.Dir, cfg.Location())

	eng := engine.New(cfg, engine.Deps{
		Store:      st,
		Executor:   executor,
		Market:     market,
		Candidates: candidates,
		Journal:    journal,
		Metrics:    m,
	})
	logger.Info(ctx, "Engine ready",
		"run_id", eng.RunID(),
		"mode", cfg.Mode,
		"max_investment", cfg.MaxInvestment,
		"target_profit_rate", cfg.TargetProfitRate,
	)

	return &system{
		cfg:         cfg,
		store:       st,
		market:      market,
		journal:     journal,
		eod:         eodobs.Wrap(eod.NewSummarizer(journal, cfg.Location())),
		engine:      engineobs.Wrap(eng),
		stopMetrics: stopMetrics,
	}, nil
}

// shutdown closes the stream and store, writes the EOD summary and
// compresses old journal files.
func (s *system) shutdown(ctx context.Context) {
	if err := s.market.Close(); err != nil {
		logger.Warn(ctx, "Failed to close market data", "error", err)
	}
	if err := s.store.Close(); err != nil {
		logger.Warn(ctx, "Failed to close session store", "error", err)
	}

	if p, err := s.eod.SummarizeToday(); err == nil && p != "" {
		logger.Info(ctx, "EOD CSV written", "path", p)
	}
	if err := s.journal.CompressOlder(s.cfg.Journal.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}

	s.stopMetrics()
}
