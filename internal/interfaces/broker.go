package interfaces

import (
	"context"

	"daytrader/internal/types"
)

// OrderExecutor submits one order and waits for the broker's answer.
// Market orders are never retried by implementations.
type OrderExecutor interface {
	Execute(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
}
