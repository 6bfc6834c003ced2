package interfaces

import (
	"context"

	"daytrader/internal/types"
)

type Engine interface {
	Run(ctx context.Context) (types.TradingSession, error)
	Status() types.Status
}
