package brokerobs

import (
	"context"
	"time"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/metrics"
	"daytrader/internal/trace"
	"daytrader/internal/types"
)

// observableExecutor wraps an OrderExecutor with logging, tracing and order metrics
type observableExecutor struct {
	executor interfaces.OrderExecutor
	metrics  *metrics.Metrics
}

// Compile-time interface check
var _ interfaces.OrderExecutor = (*observableExecutor)(nil)

// Wrap wraps an executor with observability middleware. m may be nil.
func Wrap(executor interfaces.OrderExecutor, m *metrics.Metrics) interfaces.OrderExecutor {
	return &observableExecutor{
		executor: executor,
		metrics:  m,
	}
}

// Execute submits an order with observability
func (oe *observableExecutor) Execute(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Execute")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Submitting order",
		"symbol", req.Code,
		"side", req.Side,
		"qty", req.Quantity,
		"type", req.OrderType,
	)

	result, err := oe.executor.Execute(ctx, req)
	oe.metrics.Order(req.Side, err == nil && result.Success)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order failed", err,
			"symbol", req.Code,
			"side", req.Side,
			"qty", req.Quantity,
			"error_kind", result.ErrorKind,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return result, err
	}

	logger.Trade(ctx, req.Code, string(req.Side), req.Quantity, result.FilledPrice, result.OrderID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	logger.DebugSkip(ctx, 1, "Broker response", "order_id", result.OrderID, "message", result.Message)
	return result, nil
}
