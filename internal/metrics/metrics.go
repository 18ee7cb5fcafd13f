package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kabu"

// Metrics holds every collector. It satisfies the recorder interfaces of
// the pricing and exchange packages.
type Metrics struct {
	price           prometheus.Gauge
	delta           prometheus.Gauge
	evaluations     *prometheus.CounterVec
	trades          *prometheus.CounterVec
	units           *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
	subscribers     prometheus.Gauge
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price",
			Help:      "Current kabu price.",
		}),
		delta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_delta",
			Help:      "Price change applied by the last evaluation.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Market evaluations by outcome.",
		}, []string{"outcome"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trade attempts by side and result.",
		}, []string{"side", "result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_units_total",
			Help:      "Units bought or sold in completed trades.",
		}, []string{"side"}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_inconsistencies_total",
			Help:      "Trades whose ledger and holdings steps diverged.",
		}, []string{"side"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Connected websocket subscribers.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.price,
		m.delta,
		m.evaluations,
		m.trades,
		m.units,
		m.inconsistencies,
		m.subscribers,
		m.requests,
		m.latency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordEvaluation(outcome string) {
	m.evaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordState(price, delta int64) {
	m.price.Set(float64(price))
	m.delta.Set(float64(delta))
}

func (m *Metrics) RecordTrade(side, result string, units int64) {
	m.trades.WithLabelValues(side, result).Inc()
	if result == "ok" {
		m.units.WithLabelValues(side).Add(float64(units))
	}
}

func (m *Metrics) RecordInconsistency(side string) {
	m.inconsistencies.WithLabelValues(side).Inc()
}

// SetSubscribers matches the broadcast hub's gauge callback.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}
