// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts executed orders, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_orders_total",
		Help: "Total number of orders executed",
	}, []string{"side"})

	// OrdersRejected counts rejected orders by failure reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_orders_rejected_total",
		Help: "Orders rejected, by reason",
	}, []string{"reason"})

	// OrderLatency tracks order execution latency.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bsx_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradedShares tracks cumulative traded quantity per movie.
	TradedShares = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_traded_shares_total",
		Help: "Cumulative traded quantity in shares",
	}, []string{"symbol", "side"})

	// SimulatorTicks counts completed simulator passes.
	SimulatorTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_simulator_ticks_total",
		Help: "Completed market simulator ticks",
	})

	// SimulatorErrors counts per-movie failures inside simulator ticks.
	SimulatorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_simulator_errors_total",
		Help: "Per-movie errors during simulator ticks",
	})

	// PriceUpdates counts price writes, partitioned by source.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_price_updates_total",
		Help: "Price updates applied, by source (trade or tick)",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bsx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bsx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small and
		// bounded enough not to blow up cardinality.
		path := r.URL.Path
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
