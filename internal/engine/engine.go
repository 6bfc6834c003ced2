package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/metrics"
	"daytrader/internal/store"
	"daytrader/internal/trace"
	"daytrader/internal/tradelog"
	"daytrader/internal/types"
)

const (
	profitLogInterval  = 10 * time.Second
	waitingLogInterval = 10 * time.Second
)

// Options are the trading parameters of one run.
type Options struct {
	MaxInvestment    int64
	TargetProfitRate decimal.Decimal
	Location         *time.Location
	BuyWindow        time.Duration
	PollInterval     time.Duration
	OnCorrupt        string
	Now              func() time.Time
}

func OptionsFromConfig(cfg *store.Config) Options {
	return Options{
		MaxInvestment:    cfg.MaxInvestment,
		TargetProfitRate: cfg.ProfitTarget(),
		Location:         cfg.Location(),
		BuyWindow:        cfg.BuyWindow(),
		PollInterval:     cfg.PollInterval(),
		OnCorrupt:        cfg.Persistence.OnCorrupt,
	}
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Store      interfaces.SessionStore
	Executor   interfaces.OrderExecutor
	Market     interfaces.MarketData
	Candidates interfaces.CandidateSource
	Journal    *tradelog.Journal
	Metrics    *metrics.Metrics
}

// Engine runs one trading day: wait for the candidate to reach its buy
// price, buy once, then sell once when the target profit is reached.
//
// The sell guard is an atomic flag set before the sell order is submitted.
// Once set it is never cleared, so concurrent qualifying ticks produce at
// most one sell even while the first one is still in flight.
type Engine struct {
	opts       Options
	store      interfaces.SessionStore
	market     interfaces.MarketData
	candidates interfaces.CandidateSource
	orders     *orderExecutor
	metrics    *metrics.Metrics
	runID      string

	mu            sync.Mutex
	session       types.TradingSession
	buyInFlight   bool
	zeroQtyLogged bool
	stopping      bool
	lastWaitLog   time.Time
	lastProfitLog time.Time

	sellGuard atomic.Bool
	started   atomic.Bool
	runCtx    context.Context
	done      chan struct{}
	doneOnce  sync.Once
	wg        sync.WaitGroup
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(opts Options, deps Deps) *Engine {
	if opts.Location == nil {
		opts.Location = store.KST
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.OnCorrupt == "" {
		opts.OnCorrupt = store.OnCorruptStartFresh
	}
	return &Engine{
		opts:       opts,
		store:      deps.Store,
		market:     deps.Market,
		candidates: deps.Candidates,
		orders:     newOrderExecutor(deps.Executor, deps.Journal),
		metrics:    deps.Metrics,
		runID:      uuid.NewString(),
		session:    types.TradingSession{Status: types.StatusIdle},
		runCtx:     context.Background(),
		done:       make(chan struct{}),
	}
}

func (e *Engine) RunID() string { return e.runID }

func (e *Engine) Status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() types.TradingSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Run executes today's session to a terminal state, the end of the buy
// window, or cancellation of ctx. An error is returned only when the day
// could not be started or was interrupted; Sold and Failed return nil.
func (e *Engine) Run(ctx context.Context) (types.TradingSession, error) {
	if !e.started.CompareAndSwap(false, true) {
		return e.Snapshot(), errors.New("engine already started")
	}
	e.runCtx = context.WithoutCancel(ctx)

	date := store.TradingDate(e.opts.Now(), e.opts.Location)
	rec, err := e.load(ctx, date)
	if err != nil {
		return types.TradingSession{TradingDate: date}, err
	}

	e.mu.Lock()
	if rec != nil {
		e.session = *rec
	} else {
		e.session = types.TradingSession{TradingDate: date, Status: types.StatusIdle}
	}
	e.session.RunID = e.runID
	e.metrics.SetSessionStatus(e.session.Status)
	e.mu.Unlock()

	switch {
	case rec != nil && rec.Status.Terminal():
		logger.Info(ctx, "Trading already finished for today",
			"date", date,
			"status", rec.Status,
			"symbol", rec.StockCode,
			"buy_price", rec.BuyPrice,
			"sell_price", rec.SellPrice,
			"failure_reason", rec.FailureReason,
		)
		e.finishLocked()
		return *rec, nil

	case rec != nil && rec.PendingIntent():
		e.mu.Lock()
		e.failLocked(ctx, "order requested but its outcome was never recorded; reconcile with the broker manually")
		e.mu.Unlock()
		return e.Snapshot(), nil

	case rec != nil && rec.Status.Holding():
		logger.Info(ctx, "Resuming held position",
			"date", date,
			"symbol", rec.StockCode,
			"name", rec.StockName,
			"buy_price", rec.BuyPrice,
			"quantity", rec.Quantity,
		)

	default:
		e.mu.Lock()
		e.transitionLocked(ctx, types.StatusAwaitingBuy)
		if err := e.saveLocked(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist awaiting state", err)
		}
		e.mu.Unlock()

		bought, err := e.awaitBuy(ctx)
		if err != nil || !bought {
			return e.Snapshot(), err
		}
	}

	return e.monitor(ctx)
}

// load reads today's record, applying the corrupt-record policy.
func (e *Engine) load(ctx context.Context, date string) (*types.TradingSession, error) {
	rec, err := e.store.Load(ctx, date)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, types.ErrPersistence) || e.opts.OnCorrupt == store.OnCorruptHalt {
		return nil, fmt.Errorf("load session %s: %w", date, err)
	}

	logger.ErrorWithErr(ctx, "Session record unreadable, starting fresh", err, "date", date)
	moved, qerr := e.store.Quarantine(ctx, date)
	if qerr != nil {
		return nil, fmt.Errorf("quarantine session %s: %w", date, qerr)
	}
	logger.Warn(ctx, "Unreadable session record quarantined", "date", date, "moved_to", moved)
	return nil, nil
}

// awaitBuy polls the candidate source until a buy happens, the buy window
// elapses or ctx is cancelled.
func (e *Engine) awaitBuy(ctx context.Context) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "engine.awaitBuy")
	defer span.End()

	logger.Info(ctx, "Watching for today's candidate",
		"buy_window", e.opts.BuyWindow.String(),
		"poll_interval", e.opts.PollInterval.String(),
		"max_investment", e.opts.MaxInvestment,
	)

	window := time.NewTimer(e.opts.BuyWindow)
	defer window.Stop()
	poll := time.NewTicker(e.opts.PollInterval)
	defer poll.Stop()

	for {
		c, err := e.candidates.Fetch(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return false, ctx.Err()
		case err != nil:
			logger.Warn(ctx, "Candidate poll failed", "error", err)
		default:
			status, _ := e.Observe(ctx, c)
			if status != types.StatusAwaitingBuy {
				return status.Holding(), nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-window.C:
			logger.Info(ctx, "Buy window elapsed without a buy", "window", e.opts.BuyWindow.String())
			return false, nil
		case <-poll.C:
		}
	}
}

// Observe evaluates one candidate observation while awaiting the buy. It
// returns the resulting status; anything but AwaitingBuy ends the buy phase.
func (e *Engine) Observe(ctx context.Context, c types.CandidateStock) (types.Status, error) {
	e.mu.Lock()
	if e.session.Status != types.StatusAwaitingBuy || e.buyInFlight {
		st := e.session.Status
		e.mu.Unlock()
		return st, nil
	}

	if !c.HasData {
		if now := e.opts.Now(); now.Sub(e.lastWaitLog) >= waitingLogInterval {
			e.lastWaitLog = now
			logger.Info(ctx, "Waiting for candidate")
		}
		e.mu.Unlock()
		return types.StatusAwaitingBuy, nil
	}

	if c.CurrentPrice < c.TargetBuyPrice {
		logger.Debug(ctx, "Candidate below buy price",
			"symbol", c.Code, "current_price", c.CurrentPrice, "buy_price", c.TargetBuyPrice)
		e.mu.Unlock()
		return types.StatusAwaitingBuy, nil
	}

	qty := CalcQuantity(e.opts.MaxInvestment, c.TargetBuyPrice)
	if qty == 0 {
		if !e.zeroQtyLogged {
			e.zeroQtyLogged = true
			logger.Warn(ctx, "Buy skipped: max investment buys no shares",
				"symbol", c.Code,
				"buy_price", c.TargetBuyPrice,
				"max_investment", e.opts.MaxInvestment,
			)
		}
		e.mu.Unlock()
		return types.StatusAwaitingBuy, nil
	}

	requested := e.opts.Now()
	e.session.StockCode = c.Code
	e.session.StockName = c.Name
	e.session.BuyRequestedAt = &requested
	if err := e.saveLocked(ctx); err != nil {
		e.session.StockCode, e.session.StockName, e.session.BuyRequestedAt = "", "", nil
		e.mu.Unlock()
		logger.ErrorWithErr(ctx, "Buy intent not persisted, order not submitted", err, "symbol", c.Code)
		return types.StatusAwaitingBuy, err
	}
	e.buyInFlight = true
	e.mu.Unlock()

	e.orders.logDecision(ctx, e.runID, c.Code, "BUY", "current price reached buy price", c.CurrentPrice, "")
	res, err := e.orders.placeBuyOrder(ctx, c.Code, qty)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.buyInFlight = false

	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", types.ErrOrderRejected, res.Message)
	}
	if err != nil {
		e.session.Quantity = qty
		e.failLocked(ctx, "buy order failed: "+err.Error())
		e.orders.saveResult(ctx, tradelog.Result{
			Action: types.SideBuy, RunID: e.runID, StockInfo: &c, Session: e.session, OrderResult: res,
		})
		return types.StatusFailed, err
	}

	e.session.BuyPrice = c.CurrentPrice
	e.session.Quantity = qty
	e.session.BuyOrderID = res.OrderID
	e.session.BuyTimestamp = e.opts.Now()
	e.transitionLocked(ctx, types.StatusBought)
	if err := e.saveLocked(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Bought session not persisted; position is held in memory only", err,
			"symbol", c.Code, "order_id", res.OrderID)
	}

	e.orders.recordTrade(ctx, e.runID, e.session, types.SideBuy, c.CurrentPrice, res, "BUY_PRICE_REACHED")
	e.orders.saveResult(ctx, tradelog.Result{
		Action: types.SideBuy, RunID: e.runID, StockInfo: &c, Session: e.session, OrderResult: res,
	})
	return types.StatusBought, nil
}

// monitor subscribes to the held stock and waits for the sell to finish.
func (e *Engine) monitor(ctx context.Context) (types.TradingSession, error) {
	ctx, span := trace.StartSpan(ctx, "engine.monitor")
	defer span.End()

	if e.market.State() == types.Disconnected {
		if _, err := e.market.Open(ctx); err != nil {
			if errors.Is(err, types.ErrAuthentication) {
				e.mu.Lock()
				e.failLocked(ctx, "market data login failed while holding a position; reconcile with the broker manually: "+err.Error())
				e.mu.Unlock()
			}
			return e.Snapshot(), fmt.Errorf("open market data: %w", err)
		}
	}

	e.mu.Lock()
	if e.session.Status == types.StatusBought {
		e.transitionLocked(ctx, types.StatusMonitoring)
		if err := e.saveLocked(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist monitoring state", err)
		}
	}
	s := e.session
	e.mu.Unlock()

	if err := e.market.Subscribe(ctx, s.StockCode, e.OnTick); err != nil {
		return e.Snapshot(), fmt.Errorf("subscribe %s: %w", s.StockCode, err)
	}

	logger.Info(ctx, "Monitoring for target profit",
		"symbol", s.StockCode,
		"buy_price", s.BuyPrice,
		"quantity", s.Quantity,
		"target_rate", formatRate(e.opts.TargetProfitRate),
		"target_price", targetPrice(s.BuyPrice, e.opts.TargetProfitRate),
	)

	select {
	case <-e.done:
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.wg.Wait()

	final := e.Snapshot()
	if final.Status.Terminal() {
		return final, nil
	}
	return final, ctx.Err()
}

// OnTick evaluates one price tick while monitoring. It never blocks on the
// sell order; the order runs on its own goroutine.
func (e *Engine) OnTick(tick types.PriceTick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping || e.session.Status != types.StatusMonitoring || tick.StockCode != e.session.StockCode || tick.Price <= 0 {
		return
	}
	ctx := e.runCtx
	buy := e.session.BuyPrice
	rate := ProfitRate(buy, tick.Price)

	if now := e.opts.Now(); now.Sub(e.lastProfitLog) >= profitLogInterval {
		e.lastProfitLog = now
		logger.Info(ctx, "Profit check",
			"symbol", tick.StockCode,
			"price", tick.Price,
			"buy_price", buy,
			"profit_rate", formatRate(rate),
			"target_rate", formatRate(e.opts.TargetProfitRate),
		)
	}

	if !ShouldSell(buy, tick.Price, e.opts.TargetProfitRate) {
		return
	}
	if !e.sellGuard.CompareAndSwap(false, true) {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sell(ctx, tick.Price, rate)
	}()
}

func (e *Engine) sell(ctx context.Context, price int64, rate decimal.Decimal) {
	ctx, span := trace.StartSpan(ctx, "engine.sell")
	defer span.End()

	e.mu.Lock()
	requested := e.opts.Now()
	e.session.SellRequestedAt = &requested
	if err := e.saveLocked(ctx); err != nil {
		e.failLocked(ctx, "sell intent not persisted, order not submitted: "+err.Error())
		e.mu.Unlock()
		return
	}
	s := e.session
	e.mu.Unlock()

	e.orders.logDecision(ctx, e.runID, s.StockCode, "SELL", "target profit reached", price, formatRate(rate))
	res, err := e.orders.placeSellOrder(ctx, s.StockCode, s.Quantity)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", types.ErrOrderRejected, res.Message)
	}

	result := tradelog.Result{
		Action:       types.SideSell,
		RunID:        e.runID,
		CurrentPrice: price,
		ProfitRate:   formatRate(rate),
		OrderResult:  res,
		Source:       "realtime",
	}

	e.mu.Lock()
	if err != nil {
		e.failLocked(ctx, "sell order failed: "+err.Error())
		result.Session = e.session
		e.mu.Unlock()
		e.orders.saveResult(ctx, result)
		return
	}

	e.session.SellPrice = price
	e.session.SellOrderID = res.OrderID
	e.session.SellTimestamp = e.opts.Now()
	e.transitionLocked(ctx, types.StatusSold)
	if err := e.saveLocked(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Sold session not persisted", err, "symbol", s.StockCode, "order_id", res.OrderID)
	}
	result.Session = e.session
	e.finishLocked()
	e.mu.Unlock()

	e.orders.recordTrade(ctx, e.runID, result.Session, types.SideSell, price, res, "TARGET_PROFIT")
	e.orders.saveResult(ctx, result)

	if err := e.market.Unsubscribe(ctx, s.StockCode); err != nil {
		logger.Warn(ctx, "Unsubscribe after sell failed", "symbol", s.StockCode, "error", err)
	}
	logger.Info(ctx, "Trading day complete",
		"symbol", s.StockCode,
		"buy_price", s.BuyPrice,
		"sell_price", price,
		"quantity", s.Quantity,
		"profit_rate", formatRate(rate),
	)
}

// transitionLocked must be called with e.mu held.
func (e *Engine) transitionLocked(ctx context.Context, to types.Status) {
	from := e.session.Status
	e.session.Status = to
	logger.Transition(ctx, e.session.StockCode, string(from), string(to), "run_id", e.runID)
	e.metrics.SetSessionStatus(to)
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if err := e.store.Save(ctx, e.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// failLocked ends the day in Failed. Must be called with e.mu held.
func (e *Engine) failLocked(ctx context.Context, reason string) {
	e.session.FailureReason = reason
	e.transitionLocked(ctx, types.StatusFailed)
	if err := e.saveLocked(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Failed session not persisted", err, "reason", reason)
	}
	logger.Error(ctx, "Trading session failed", "symbol", e.session.StockCode, "reason", reason)
	e.finishLocked()
}

func (e *Engine) finishLocked() {
	e.doneOnce.Do(func() { close(e.done) })
}
