// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades by market and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_trades_total",
		Help: "Total number of trades settled on the ledger",
	}, []string{"market", "side"})

	// TradeLatency covers quote, sizing, settlement and bookkeeping.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ssa_trade_latency_seconds",
		Help:    "End-to-end trade latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"market", "side"})

	// TradeRejections counts trades refused before settlement, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_trade_rejections_total",
		Help: "Trades rejected before reaching the ledger",
	}, []string{"reason"})

	// SettlementFailures counts ledger calls that failed or timed out.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_settlement_failures_total",
		Help: "Ledger settlement calls that did not succeed",
	}, []string{"op"})

	// BookkeepingFailures counts settled operations whose store write failed.
	BookkeepingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_bookkeeping_failures_total",
		Help: "Settled operations not recorded in the store",
	}, []string{"type"})

	// ReconcileQueued tracks entries waiting to be replayed into the store.
	ReconcileQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssa_reconcile_pending",
		Help: "Settled operations queued for store replay",
	})

	// OracleFallbacks counts quotes served from the fallback table.
	OracleFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_oracle_fallbacks_total",
		Help: "Quotes that fell back to the static price table",
	}, []string{"symbol"})

	// Volume tracks cumulative traded units per symbol.
	Volume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_volume_units_total",
		Help: "Cumulative traded units",
	}, []string{"symbol", "side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssa_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ssa_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps wallet addresses out of the label set.
		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
