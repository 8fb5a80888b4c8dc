// Package observability exposes control-loop metrics and a status endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "pegkeeper"

// Metrics holds the control-loop collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	iterations   *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	actions      *prometheus.CounterVec
	duration     prometheus.Histogram

	exchangeRate   prometheus.Gauge
	publishedPrice prometheus.Gauge
	assetPrice     prometheus.Gauge
	deviationPct   prometheus.Gauge
	lastSuccess    prometheus.Gauge
	highImpact     prometheus.Counter
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Control-loop iterations by outcome",
		},
		[]string{"status"},
	)
	m.stepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "step_failures_total",
			Help:      "Failed iteration steps",
		},
		[]string{"step"},
	)
	m.actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peg",
			Name:      "actions_total",
			Help:      "Trade decisions by action",
		},
		[]string{"action"},
	)
	m.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of a control-loop iteration",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	m.exchangeRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "exchange_rate",
		Help:      "Last fetched exchange rate",
	})
	m.publishedPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "published_price_fixed",
		Help:      "Last published fixed-point oracle price",
	})
	m.assetPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "peg",
		Name:      "asset_price",
		Help:      "Last observed market price of the pegged asset",
	})
	m.deviationPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "peg",
		Name:      "deviation_pct",
		Help:      "Last peg deviation in percent",
	})
	m.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "loop",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last fully successful iteration",
	})
	m.highImpact = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "swap",
		Name:      "high_impact_total",
		Help:      "Swaps executed above the price impact ceiling",
	})

	m.registry.MustRegister(
		m.iterations,
		m.stepFailures,
		m.actions,
		m.duration,
		m.exchangeRate,
		m.publishedPrice,
		m.assetPrice,
		m.deviationPct,
		m.lastSuccess,
		m.highImpact,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIteration records an iteration outcome. failedStep is empty on success.
func (m *Metrics) ObserveIteration(failedStep string, elapsed time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if failedStep != "" {
		m.iterations.WithLabelValues("failed").Inc()
		m.stepFailures.WithLabelValues(failedStep).Inc()
		return
	}
	m.iterations.WithLabelValues("complete").Inc()
	m.lastSuccess.Set(float64(finishedAt.Unix()))
}

// SetExchangeRate records the fetched rate.
func (m *Metrics) SetExchangeRate(rate decimal.Decimal) {
	if m == nil {
		return
	}
	m.exchangeRate.Set(rate.InexactFloat64())
}

// SetPublishedPrice records the fixed-point price written to the oracle.
func (m *Metrics) SetPublishedPrice(price uint64) {
	if m == nil {
		return
	}
	m.publishedPrice.Set(float64(price))
}

// SetPeg records the observed price and its deviation.
func (m *Metrics) SetPeg(price, deviationPct decimal.Decimal) {
	if m == nil {
		return
	}
	m.assetPrice.Set(price.InexactFloat64())
	m.deviationPct.Set(deviationPct.InexactFloat64())
}

// ObserveAction counts a trade decision.
func (m *Metrics) ObserveAction(action string, highImpact bool) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action).Inc()
	if highImpact {
		m.highImpact.Inc()
	}
}
