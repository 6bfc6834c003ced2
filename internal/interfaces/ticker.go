package interfaces

import (
	"context"

	"daytrader/internal/types"
)

// MarketData is a live quote stream keyed by stock code.
type MarketData interface {
	Open(ctx context.Context) (types.ConnectionState, error)
	Subscribe(ctx context.Context, symbol string, onTick types.TickHandler) error
	Unsubscribe(ctx context.Context, symbol string) error
	State() types.ConnectionState
	Close() error
}
