package interfaces

import (
	"context"

	"daytrader/internal/types"
)

type CandidateSource interface {
	Fetch(ctx context.Context) (types.CandidateStock, error)
}
