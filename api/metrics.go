package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the service's Prometheus collectors. Each Metrics owns its
// registry so several routers can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	SalesAppended  prometheus.Counter
	Closures       *prometheus.CounterVec
	SealFailures   prometheus.Counter
	SelfTestPassed prometheus.Gauge
	EngineDuration *prometheus.HistogramVec
	LockedRequests prometheus.Counter
	Resealed       prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SalesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiscal",
			Name:      "sales_appended_total",
			Help:      "Sales appended to the log.",
		}),
		Closures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fiscal",
			Name:      "closures_total",
			Help:      "Shift closes by outcome.",
		}, []string{"result"}),
		SealFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiscal",
			Name:      "seal_failures_total",
			Help:      "Sales left unsealed after a close.",
		}),
		SelfTestPassed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fiscal",
			Name:      "self_test_passed",
			Help:      "1 when the startup self-test passed, 0 otherwise.",
		}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fiscal",
			Name:      "engine_duration_seconds",
			Help:      "Time spent computing reports and closures.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		LockedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiscal",
			Name:      "locked_requests_total",
			Help:      "Requests refused because the fiscal lock is engaged.",
		}),
		Resealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiscal",
			Name:      "resealed_total",
			Help:      "Sales sealed by the background reseal after a close left them unsealed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SalesAppended,
		m.Closures,
		m.SealFailures,
		m.SelfTestPassed,
		m.EngineDuration,
		m.LockedRequests,
		m.Resealed,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe records the duration of op since start.
func (m *Metrics) observe(op string, start time.Time) {
	m.EngineDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setSelfTest(passed bool) {
	if passed {
		m.SelfTestPassed.Set(1)
		return
	}
	m.SelfTestPassed.Set(0)
}
