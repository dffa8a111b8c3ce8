// Package metrics exposes Prometheus metrics of the field agent: upload queue
// activity, connectivity and submit outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "propcheck"

type AgentMetrics struct {
	registry *prometheus.Registry

	enqueuedTotal   prometheus.Counter
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	queueItems      *prometheus.GaugeVec
	online          prometheus.Gauge
	submitsTotal    *prometheus.CounterVec
}

func NewAgentMetrics() *AgentMetrics {
	registry := prometheus.NewRegistry()

	enqueuedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload_queue",
			Name:      "enqueued_total",
			Help:      "Total items handed to the upload queue.",
		},
	)
	attemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload_queue",
			Name:      "attempts_total",
			Help:      "Upload attempts by outcome.",
		},
		[]string{"outcome"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload_queue",
			Name:      "attempt_duration_seconds",
			Help:      "Upload attempt duration in seconds by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)
	queueItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload_queue",
			Name:      "items",
			Help:      "Items currently in the upload queue by status.",
		},
		[]string{"status"},
	)
	online := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 while the backend is reachable.",
		},
	)
	submitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "total",
			Help:      "Checklist submits by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(enqueuedTotal, attemptsTotal, attemptDuration, queueItems, online, submitsTotal)
	online.Set(1)

	return &AgentMetrics{
		registry:        registry,
		enqueuedTotal:   enqueuedTotal,
		attemptsTotal:   attemptsTotal,
		attemptDuration: attemptDuration,
		queueItems:      queueItems,
		online:          online,
		submitsTotal:    submitsTotal,
	}
}

func (m *AgentMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *AgentMetrics) Enqueued() {
	m.enqueuedTotal.Inc()
}

func (m *AgentMetrics) AttemptFinished(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
	m.attemptDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *AgentMetrics) Snapshot(s uploadqueue.Status) {
	m.queueItems.WithLabelValues("pending").Set(float64(s.Pending))
	m.queueItems.WithLabelValues("uploading").Set(float64(s.Uploading))
	m.queueItems.WithLabelValues("completed").Set(float64(s.Completed))
	m.queueItems.WithLabelValues("failed").Set(float64(s.Failed))
}

func (m *AgentMetrics) OnOffline() { m.online.Set(0) }
func (m *AgentMetrics) OnOnline()  { m.online.Set(1) }

// SubmitFinished records one submit. outcome is e.g. "ok", "partial",
// "offline" or "error".
func (m *AgentMetrics) SubmitFinished(outcome string) {
	m.submitsTotal.WithLabelValues(outcome).Inc()
}
