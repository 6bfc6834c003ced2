package interfaces

import (
	"context"

	"daytrader/internal/types"
)

// SessionStore persists at most one TradingSession per trading date.
type SessionStore interface {
	// Load returns nil, nil when no record exists.
	Load(ctx context.Context, date string) (*types.TradingSession, error)
	Save(ctx context.Context, s types.TradingSession) error
	// Quarantine moves an unreadable record aside so trading can start fresh.
	Quarantine(ctx context.Context, date string) (string, error)
	Close() error
}
