package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daytrader/internal/logger"
	"daytrader/internal/types"
)

// Metrics owns a private registry. All recording methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	ticksDropped   prometheus.Counter
	heartbeats     prometheus.Counter
	reconnects     prometheus.Counter
	parseErrors    prometheus.Counter
	orders         *prometheus.CounterVec
	candidatePolls *prometheus.CounterVec
	sessionStatus  *prometheus.GaugeVec
	connState      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daytrader_ticks_total",
		Help: "Price ticks delivered to subscribers",
	})
	m.ticksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daytrader_ticks_dropped_total",
		Help: "Price ticks dropped because the dispatch buffer was full",
	})
	m.heartbeats = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daytrader_heartbeats_total",
		Help: "Heartbeat frames echoed to the server",
	})
	m.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daytrader_reconnects_total",
		Help: "Market data reconnect attempts",
	})
	m.parseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daytrader_stream_parse_errors_total",
		Help: "Inbound stream messages dropped as unparseable",
	})
	m.orders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "daytrader_orders_total",
		Help: "Orders submitted by side and outcome",
	}, []string{"side", "result"})
	m.candidatePolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "daytrader_candidate_polls_total",
		Help: "Candidate page polls by outcome",
	}, []string{"result"})
	m.sessionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "daytrader_session_status",
		Help: "1 for the current session status, 0 otherwise",
	}, []string{"status"})
	m.connState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "daytrader_connection_state",
		Help: "Market data connection state (0 disconnected .. 4 reconnecting)",
	})

	reg.MustRegister(m.ticks, m.ticksDropped, m.heartbeats, m.reconnects, m.parseErrors,
		m.orders, m.candidatePolls, m.sessionStatus, m.connState)
	return m
}

func (m *Metrics) TickDelivered() {
	if m != nil {
		m.ticks.Inc()
	}
}

func (m *Metrics) TickDropped() {
	if m != nil {
		m.ticksDropped.Inc()
	}
}

func (m *Metrics) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) ParseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

func (m *Metrics) Order(side types.Side, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.orders.WithLabelValues(string(side), result).Inc()
}

func (m *Metrics) CandidatePoll(result string) {
	if m != nil {
		m.candidatePolls.WithLabelValues(result).Inc()
	}
}

var allStatuses = []types.Status{
	types.StatusIdle, types.StatusAwaitingBuy, types.StatusBought,
	types.StatusMonitoring, types.StatusSold, types.StatusFailed,
}

func (m *Metrics) SetSessionStatus(st types.Status) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		v := 0.0
		if s == st {
			v = 1
		}
		m.sessionStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) SetConnectionState(st types.ConnectionState) {
	if m != nil {
		m.connState.Set(float64(st))
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr and returns a shutdown func.
func (m *Metrics) Serve(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Metrics server error", err, "addr", addr)
		}
	}()
	logger.Info(ctx, "Metrics endpoint listening", "addr", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Failed to shutdown metrics server", "error", err)
		}
	}
}
