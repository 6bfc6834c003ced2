package engine

import (
	"context"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/tradelog"
	"daytrader/internal/types"
)

// orderExecutor handles order placement and trade journaling.
type orderExecutor struct {
	executor interfaces.OrderExecutor
	journal  *tradelog.Journal
}

func newOrderExecutor(executor interfaces.OrderExecutor, journal *tradelog.Journal) *orderExecutor {
	return &orderExecutor{
		executor: executor,
		journal:  journal,
	}
}

// placeBuyOrder submits a market buy. Cancellation of ctx does not abort an
// order that is already on its way.
func (oe *orderExecutor) placeBuyOrder(ctx context.Context, code string, qty int64) (types.OrderResult, error) {
	return oe.executor.Execute(context.WithoutCancel(ctx), types.OrderRequest{
		Code:      code,
		Side:      types.SideBuy,
		Quantity:  qty,
		OrderType: types.OrderTypeMarket,
	})
}

func (oe *orderExecutor) placeSellOrder(ctx context.Context, code string, qty int64) (types.OrderResult, error) {
	return oe.executor.Execute(context.WithoutCancel(ctx), types.OrderRequest{
		Code:      code,
		Side:      types.SideSell,
		Quantity:  qty,
		OrderType: types.OrderTypeMarket,
	})
}

// recordTrade appends a filled order to the daily journal.
func (oe *orderExecutor) recordTrade(ctx context.Context, runID string, s types.TradingSession, side types.Side, price int64, res types.OrderResult, reason string) {
	if oe.journal == nil {
		return
	}
	if err := oe.journal.Append(tradelog.Entry{
		RunID:   runID,
		Symbol:  s.StockCode,
		Name:    s.StockName,
		Side:    string(side),
		Qty:     s.Quantity,
		Price:   price,
		OrderID: res.OrderID,
		Reason:  reason,
	}); err != nil {
		logger.ErrorWithErr(ctx, "Failed to append trade journal", err, "symbol", s.StockCode, "side", side)
	}
}

// saveResult writes the per-order result file, successful or not.
func (oe *orderExecutor) saveResult(ctx context.Context, r tradelog.Result) {
	if oe.journal == nil {
		return
	}
	p, err := oe.journal.SaveResult(r)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to save order result", err, "action", r.Action)
		return
	}
	logger.Info(ctx, "Order result saved", "action", r.Action, "path", p)
}

func (oe *orderExecutor) logDecision(ctx context.Context, runID, symbol, action, reason string, price int64, rate string) {
	logger.Decision(ctx, symbol, action, reason, "price", price, "profit_rate", rate)
	if oe.journal == nil {
		return
	}
	_ = oe.journal.AppendDecision(tradelog.DecisionEntry{
		RunID:      runID,
		Symbol:     symbol,
		Action:     action,
		Reason:     reason,
		Price:      price,
		ProfitRate: rate,
	})
}
