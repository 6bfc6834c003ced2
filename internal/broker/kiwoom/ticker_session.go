package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/metrics"
	"daytrader/internal/trace"
	"daytrader/internal/types"
)

// SessionOptions tune a TickerSession. Zero values take the defaults.
type SessionOptions struct {
	LoginTimeout     time.Duration
	ReconnectBackoff time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	TickBuffer       int
	Metrics          *metrics.Metrics
}

func (o *SessionOptions) applyDefaults() {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 10 * time.Second
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 2 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 120 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.TickBuffer <= 0 {
		o.TickBuffer = 256
	}
}

type dispatchItem struct {
	handler types.TickHandler
	tick    types.PriceTick
}

// TickerSession is one authenticated streaming connection with a table of
// symbol subscriptions. The reader goroutine answers heartbeats inline and
// hands ticks to a single dispatcher goroutine, so callbacks run in arrival
// order and never stall the socket. Lost connections are re-established
// after a fixed backoff and every table entry is re-registered before any
// further message is read. Only Close stops the retry loop.
type TickerSession struct {
	url    string
	tokens TokenProvider
	opts   SessionOptions
	dialer websocket.Dialer

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	// regMu orders table changes against the register-then-Subscribed step
	// of connect, so no entry is added between the snapshot and the state
	// change without being sent.
	regMu sync.Mutex

	state atomic.Int32
	subs  *subscriptionTable
	ticks chan dispatchItem

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ interfaces.MarketData = (*TickerSession)(nil)

func NewTickerSession(url string, tokens TokenProvider, opts SessionOptions) *TickerSession {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &TickerSession{
		url:    url,
		tokens: tokens,
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:   newSubscriptionTable(),
		ticks:  make(chan dispatchItem, opts.TickBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *TickerSession) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

func (s *TickerSession) setState(ctx context.Context, st types.ConnectionState) {
	prev := types.ConnectionState(s.state.Swap(int32(st)))
	s.opts.Metrics.SetConnectionState(st)
	if prev != st {
		logger.Debug(ctx, "Ticker state changed", "from", prev.String(), "to", st.String())
	}
}

// Open connects and authenticates. On success the receive loop starts and
// the session is Subscribed (with whatever the table holds). Failure to
// authenticate returns an error wrapping types.ErrAuthentication.
func (s *TickerSession) Open(ctx context.Context) (types.ConnectionState, error) {
	if s.closed.Load() {
		return types.Disconnected, errors.New("ticker session closed")
	}

	ctx, span := trace.StartSpan(ctx, "ticker.Open")
	defer span.End()

	if err := s.connect(ctx); err != nil {
		s.setState(ctx, types.Disconnected)
		logger.ErrorWithErr(ctx, "Ticker open failed", err, "url", s.url)
		return types.Disconnected, err
	}

	s.startOnce.Do(func() {
		loopCtx := context.WithoutCancel(ctx)
		s.wg.Add(2)
		go s.dispatchLoop(loopCtx)
		go s.runLoop(loopCtx)
	})

	logger.Info(ctx, "Ticker session opened", "url", s.url, "subscriptions", s.subs.len())
	return s.State(), nil
}

// Subscribe records symbol in the table and sends REG when connected. While
// disconnected the entry is registered on the next successful login.
func (s *TickerSession) Subscribe(ctx context.Context, symbol string, onTick types.TickHandler) error {
	if s.closed.Load() {
		return errors.New("ticker session closed")
	}
	if symbol == "" || onTick == nil {
		return errors.New("subscribe requires a symbol and a handler")
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	s.subs.add(symbol, onTick)

	if s.State() != types.Subscribed {
		logger.Warn(ctx, "Subscription queued until reconnect", "symbol", symbol, "state", s.State().String())
		return nil
	}
	if err := s.writeJSON(newRegRequest(trnmReg, symbol)); err != nil {
		logger.Warn(ctx, "REG send failed, will retry on reconnect", "symbol", symbol, "error", err)
		return nil
	}
	logger.Info(ctx, "Subscribed to real-time quotes", "symbol", symbol)
	return nil
}

func (s *TickerSession) Unsubscribe(ctx context.Context, symbol string) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if !s.subs.remove(symbol) {
		return nil
	}
	if s.State() != types.Subscribed {
		return nil
	}
	if err := s.writeJSON(newRegRequest(trnmRemove, symbol)); err != nil {
		return fmt.Errorf("%w: REMOVE %s: %v", types.ErrConnectionLost, symbol, err)
	}
	logger.Info(ctx, "Unsubscribed from real-time quotes", "symbol", symbol)
	return nil
}

// Close unregisters every subscription, stops the receive and retry loops and
// waits for them to exit. Safe to call more than once.
func (s *TickerSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		ctx := context.Background()

		s.regMu.Lock()
		symbols := s.subs.clear()
		if s.State() == types.Subscribed {
			for _, sym := range symbols {
				if err := s.writeJSON(newRegRequest(trnmRemove, sym)); err != nil {
					logger.Debug(ctx, "REMOVE on close failed", "symbol", sym, "error", err)
				}
			}
		}
		s.regMu.Unlock()

		s.cancel()
		s.closeConn()
		s.wg.Wait()
		s.setState(ctx, types.Disconnected)
		logger.Info(ctx, "Ticker session closed", "unsubscribed", len(symbols))
	})
	return nil
}

// connect dials, performs LOGIN and re-registers the subscription table.
func (s *TickerSession) connect(ctx context.Context) error {
	s.setState(ctx, types.Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.LoginTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	conn, _, err := s.dialer.DialContext(dialCtx, s.url, http.Header{})
	if err != nil {
		return fmt.Errorf("%w: dial: %v", types.ErrConnectionLost, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		s.closeConn()
		return err
	}

	s.setState(ctx, types.Authenticating)
	if err := s.login(ctx, conn); err != nil {
		s.closeConn()
		return err
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	for _, sym := range s.subs.symbols() {
		if err := s.writeJSON(newRegRequest(trnmReg, sym)); err != nil {
			s.closeConn()
			return fmt.Errorf("%w: resubscribe %s: %v", types.ErrConnectionLost, sym, err)
		}
		logger.Info(ctx, "Registered real-time quotes", "symbol", sym)
	}

	s.setState(ctx, types.Subscribed)
	return nil
}

func (s *TickerSession) login(ctx context.Context, conn *websocket.Conn) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, types.ErrAuthentication) {
			return err
		}
		return fmt.Errorf("%w: credential: %v", types.ErrAuthentication, err)
	}

	if err := s.writeJSON(loginRequest{Trnm: trnmLogin, Token: token}); err != nil {
		return fmt.Errorf("%w: send LOGIN: %v", types.ErrConnectionLost, err)
	}

	deadline := time.Now().Add(s.opts.LoginTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w: no LOGIN ack within %s", types.ErrAuthentication, s.opts.LoginTimeout)
			}
			return fmt.Errorf("%w: awaiting LOGIN ack: %v", types.ErrAuthentication, err)
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			logger.Warn(ctx, "Dropping unparseable message during login", "error", err)
			continue
		}
		switch env.Trnm {
		case trnmPing:
			if err := s.writeRaw(raw); err != nil {
				return fmt.Errorf("%w: heartbeat during login: %v", types.ErrConnectionLost, err)
			}
			s.opts.Metrics.Heartbeat()
		case trnmLogin:
			if env.ReturnCode != 0 {
				s.tokens.Invalidate()
				return fmt.Errorf("%w: LOGIN rejected (code %d): %s",
					types.ErrAuthentication, env.ReturnCode, env.ReturnMsg)
			}
			logger.Info(ctx, "Ticker login accepted", "message", env.ReturnMsg)
			return nil
		default:
			logger.Debug(ctx, "Ignoring message before LOGIN ack", "trnm", env.Trnm)
		}
	}
}

// runLoop reads until the connection drops, then reconnects forever with a
// fixed backoff until the session is closed.
func (s *TickerSession) runLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		err := s.readLoop(ctx)
		if s.ctx.Err() != nil {
			return
		}

		s.setState(ctx, types.Reconnecting)
		logger.Warn(ctx, "Ticker connection lost, reconnecting",
			"error", err,
			"backoff", s.opts.ReconnectBackoff,
			"subscriptions", s.subs.len(),
		)

		for attempt := 1; ; attempt++ {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.opts.ReconnectBackoff):
			}

			s.opts.Metrics.Reconnect()
			err := s.connect(ctx)
			if err == nil {
				logger.Info(ctx, "Ticker reconnected", "attempt", attempt, "subscriptions", s.subs.len())
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			s.setState(ctx, types.Reconnecting)
			logger.Warn(ctx, "Ticker reconnect failed", "attempt", attempt, "error", err)
		}
	}
}

func (s *TickerSession) readLoop(ctx context.Context) error {
	for {
		s.mu.RLock()
		c := s.conn
		s.mu.RUnlock()
		if c == nil {
			return types.ErrConnectionLost
		}

		c.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		_, raw, err := c.ReadMessage()
		if err != nil {
			s.closeConn()
			return fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
		}

		s.handleMessage(ctx, raw)
	}
}

func (s *TickerSession) handleMessage(ctx context.Context, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		s.opts.Metrics.ParseError()
		logger.Warn(ctx, "Dropping unparseable stream message", "error", err, "bytes", len(raw))
		return
	}

	switch env.Trnm {
	case trnmPing:
		// Echo byte-for-byte before reading anything else.
		if err := s.writeRaw(raw); err != nil {
			logger.Warn(ctx, "Heartbeat echo failed", "error", err)
			s.closeConn()
			return
		}
		s.opts.Metrics.Heartbeat()
	case trnmReal:
		ticks, err := decodeTicks(raw, time.Now())
		if err != nil {
			s.opts.Metrics.ParseError()
			logger.Warn(ctx, "Dropping malformed quote", "error", err)
			return
		}
		for _, tick := range ticks {
			s.enqueue(ctx, tick)
		}
	case trnmReg, trnmRemove:
		if env.ReturnCode != 0 {
			logger.Warn(ctx, "Registration request rejected",
				"trnm", env.Trnm, "code", int(env.ReturnCode), "message", env.ReturnMsg)
		}
	case trnmLogin:
		logger.Debug(ctx, "Late LOGIN message ignored", "code", int(env.ReturnCode))
	default:
		s.opts.Metrics.ParseError()
		logger.Debug(ctx, "Dropping unknown stream message", "trnm", env.Trnm)
	}
}

func (s *TickerSession) enqueue(ctx context.Context, tick types.PriceTick) {
	h, ok := s.subs.get(tick.StockCode)
	if !ok {
		return
	}
	select {
	case s.ticks <- dispatchItem{handler: h, tick: tick}:
	default:
		s.opts.Metrics.TickDropped()
		logger.Warn(ctx, "Tick buffer full, dropping tick", "symbol", tick.StockCode, "price", tick.Price)
	}
}

func (s *TickerSession) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.ticks:
			s.deliver(ctx, item)
		}
	}
}

func (s *TickerSession) deliver(ctx context.Context, item dispatchItem) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Tick handler panicked", "symbol", item.tick.StockCode, "panic", fmt.Sprint(r))
		}
	}()
	item.handler(item.tick)
	s.opts.Metrics.TickDelivered()
}

func (s *TickerSession) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeRaw(b)
}

func (s *TickerSession) writeRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c == nil {
		return errors.New("ws not connected")
	}

	c.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return c.WriteMessage(websocket.TextMessage, b)
}

func (s *TickerSession) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
