package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds the Prometheus instruments exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected prometheus.Counter
	PortfolioValue prometheus.Gauge
	OpenPositions  prometheus.Gauge
	BacktestRuns   *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrade_http_requests_total",
				Help: "HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrade_orders_placed_total",
				Help: "Orders accepted by the engine, by side",
			},
			[]string{"side"},
		),
		OrdersRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papertrade_orders_rejected_total",
				Help: "Orders rejected by validation, risk, or funding",
			},
		),
		PortfolioValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "papertrade_portfolio_value",
				Help: "Current total portfolio value",
			},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "papertrade_open_positions",
				Help: "Number of open positions",
			},
		),
		BacktestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrade_backtest_runs_total",
				Help: "Backtest runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.OrdersPlaced,
		m.OrdersRejected,
		m.PortfolioValue,
		m.OpenPositions,
		m.BacktestRuns,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
