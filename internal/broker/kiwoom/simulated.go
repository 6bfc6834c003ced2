package kiwoom

import (
	"context"
	"fmt"
	"time"

	"daytrader/internal/interfaces"
	"daytrader/internal/types"
)

// SimulatedExecutor fills every well-formed order without touching the
// broker. Used in DRY_RUN mode.
type SimulatedExecutor struct {
	// Latency is applied before answering, to mimic a broker round trip.
	Latency time.Duration
}

var _ interfaces.OrderExecutor = (*SimulatedExecutor)(nil)

func NewSimulatedExecutor() *SimulatedExecutor {
	return &SimulatedExecutor{}
}

func (se *SimulatedExecutor) Execute(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if req.Quantity <= 0 {
		msg := fmt.Sprintf("invalid quantity %d", req.Quantity)
		return rejected(msg), fmt.Errorf("%w: %s", types.ErrOrderRejected, msg)
	}
	if se.Latency > 0 {
		select {
		case <-ctx.Done():
			return types.OrderResult{ErrorKind: types.ErrorKindTransport, Message: ctx.Err().Error()}, ctx.Err()
		case <-time.After(se.Latency):
		}
	}
	return types.OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()),
		Message: "dry-run",
	}, nil
}
