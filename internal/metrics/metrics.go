// Package metrics exposes gateway counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iot-gateway/internal/models"
)

const namespace = "iot_gateway"

// Metrics holds the gateway collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	forecastSkipped *prometheus.CounterVec
}

// New creates the collectors, plus Go runtime and process metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Ingestion requests by protocol and outcome",
		}, []string{"protocol", "status"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Store writes by series and result",
		}, []string{"series", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Store write latency by series",
			Buckets:   prometheus.DefBuckets,
		}, []string{"series"}),
		forecastSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_model_failures_total",
			Help:      "Forecast fields skipped because their model was unavailable",
		}, []string{"field"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.storeWrites,
		m.storeLatency,
		m.forecastSkipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestHandled counts one request outcome
func (m *Metrics) RequestHandled(protocol, status string) {
	m.requests.WithLabelValues(protocol, status).Inc()
}

// StoreWrite records one guarded store write
func (m *Metrics) StoreWrite(series string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeWrites.WithLabelValues(series, result).Inc()
	m.storeLatency.WithLabelValues(series).Observe(elapsed.Seconds())
}

// ForecastSkipped counts a field dropped from a forecast batch
func (m *Metrics) ForecastSkipped(field models.Field) {
	m.forecastSkipped.WithLabelValues(string(field)).Inc()
}

// WatchQueue exports the worker pool backlog as a gauge
func (m *Metrics) WatchQueue(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Jobs waiting in the ingestion worker pool",
	}, func() float64 { return float64(depth()) }))
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
