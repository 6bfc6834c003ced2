package store

import (
	"context"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/types"
)

// HistoryReader is implemented by backends that keep more than one day.
type HistoryReader interface {
	History(ctx context.Context, limit int) ([]types.TradingSession, error)
}

var _ HistoryReader = (*SQLiteStore)(nil)

// LogRecentHistory logs a summary of the last limit days when the backend
// keeps them, and returns how many were found. Per-day lines are only
// written with detailed logging on.
func LogRecentHistory(ctx context.Context, st interfaces.SessionStore, limit int) int {
	hr, ok := st.(HistoryReader)
	if !ok || limit <= 0 {
		return 0
	}
	hist, err := hr.History(ctx, limit)
	if err != nil {
		logger.Warn(ctx, "Failed to read session history", "error", err)
		return 0
	}

	sold, failed := 0, 0
	for _, s := range hist {
		switch s.Status {
		case types.StatusSold:
			sold++
		case types.StatusFailed:
			failed++
		}
		if logger.IsDebugEnabled() {
			logger.Debug(ctx, "Past session",
				"date", s.TradingDate,
				"symbol", s.StockCode,
				"status", s.Status,
				"buy_price", s.BuyPrice,
				"sell_price", s.SellPrice,
				"quantity", s.Quantity,
			)
		}
	}
	logger.Info(ctx, "Recent trading days", "days", len(hist), "sold", sold, "failed", failed)
	return len(hist)
}
