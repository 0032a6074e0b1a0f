// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reading outcomes used as the result label on ReadingsProcessed.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Metrics holds the pipeline's Prometheus collectors, registered on a
// dedicated registry so tests can construct them repeatedly.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsProcessed *prometheus.CounterVec
	DeadLetters       prometheus.Counter
	Anomalies         prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// New creates and registers the pipeline metrics.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		ReadingsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_processed_total",
				Help:      "Readings handled by the pipeline, by outcome",
			},
			[]string{"result"},
		),
		DeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Messages recorded to the dead-letter store",
			},
		),
		Anomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_total",
				Help:      "Generation anomalies raised",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_queue_depth",
				Help:      "Tasks waiting in the pipeline worker queue",
			},
		),
	}

	registry.MustRegister(m.ReadingsProcessed, m.DeadLetters, m.Anomalies, m.QueueDepth)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
