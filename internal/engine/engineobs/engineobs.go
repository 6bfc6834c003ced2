package engineobs

import (
	"context"
	"time"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/trace"
	"daytrader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Run(ctx context.Context) (types.TradingSession, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Run")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Starting trading day")

	s, err := oe.engine.Run(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Trading day interrupted", err,
			"date", s.TradingDate,
			"status", s.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return s, err
	}

	switch s.Status {
	case types.StatusAwaitingBuy:
		logger.WarnSkip(ctx, 1, "Trading day ended without a buy", "date", s.TradingDate)
	case types.StatusFailed:
		logger.WarnSkip(ctx, 1, "Trading day ended in failure",
			"date", s.TradingDate, "reason", s.FailureReason)
	}

	logger.InfoSkip(ctx, 1, "Trading day ended",
		"date", s.TradingDate,
		"status", s.Status,
		"symbol", s.StockCode,
		"buy_price", s.BuyPrice,
		"sell_price", s.SellPrice,
		"quantity", s.Quantity,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return s, nil
}

func (oe *observableEngine) Status() types.Status {
	return oe.engine.Status()
}
