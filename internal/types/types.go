package types

import "time"

// Status is the lifecycle state of one trading day.
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusAwaitingBuy Status = "AWAITING_BUY"
	StatusBought      Status = "BOUGHT"
	StatusMonitoring  Status = "MONITORING"
	StatusSold        Status = "SOLD"
	StatusFailed      Status = "FAILED"
)

// Terminal reports whether no further transition is allowed for the day.
func (s Status) Terminal() bool {
	return s == StatusSold || s == StatusFailed
}

// Holding reports whether shares are held and the sell side should be watched.
func (s Status) Holding() bool {
	return s == StatusBought || s == StatusMonitoring
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const OrderTypeMarket OrderType = "MARKET"

// TradingSession is the persisted record of one day's buy/sell cycle.
// Prices are integer KRW.
type TradingSession struct {
	TradingDate  string    `json:"trading_date"` // yyyyMMdd in exchange time
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name"`
	BuyPrice     int64     `json:"buy_price"`
	Quantity     int64     `json:"quantity"`
	BuyOrderID   string    `json:"buy_order_id,omitempty"`
	BuyTimestamp time.Time `json:"buy_timestamp,omitzero"`

	SellPrice     int64     `json:"sell_price,omitempty"`
	SellOrderID   string    `json:"sell_order_id,omitempty"`
	SellTimestamp time.Time `json:"sell_timestamp,omitzero"`

	Status Status `json:"status"`

	// Intent markers are written before an order is submitted so a crash
	// between submission and the result write is detectable on restart.
	BuyRequestedAt  *time.Time `json:"buy_requested_at,omitempty"`
	SellRequestedAt *time.Time `json:"sell_requested_at,omitempty"`

	FailureReason string    `json:"failure_reason,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PendingIntent reports whether an order was requested but its outcome was
// never recorded.
func (s *TradingSession) PendingIntent() bool {
	if s.Status == StatusAwaitingBuy && s.BuyRequestedAt != nil {
		return true
	}
	return s.Status == StatusMonitoring && s.SellRequestedAt != nil && s.SellOrderID == ""
}

// PriceTick is one real-time quote update.
type PriceTick struct {
	StockCode  string
	Price      int64
	Change     int64
	ChangeRate float64
	Volume     int64
	TradeTime  string
	ObservedAt time.Time
}

// CandidateStock is one observation of the externally supplied buy candidate.
type CandidateStock struct {
	Code           string
	Name           string
	CurrentPrice   int64
	TargetBuyPrice int64
	ChangeRate     string
	Volume         string
	HasData        bool
	ObservedAt     time.Time
}

type OrderRequest struct {
	Code      string
	Side      Side
	Quantity  int64
	OrderType OrderType
}

// OrderResult is the broker's answer to a submitted order.
type OrderResult struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"order_id,omitempty"`
	FilledPrice int64  `json:"filled_price,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ConnectionState of the market data stream. Never persisted.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Authenticating
	Subscribed
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case Subscribed:
		return "SUBSCRIBED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// TickHandler receives price ticks for one subscribed symbol.
type TickHandler func(PriceTick)
