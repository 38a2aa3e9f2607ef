package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

const metricPrefix = "biofloc_"

// Transport labels for validation failures and drops.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// Metrics owns the server's Prometheus collectors. Each instance has its
// own registry so tests can build independent copies.
type Metrics struct {
	reg *prometheus.Registry

	readingsIngested   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	dropped            *prometheus.CounterVec
	evictions          prometheus.Counter
	devicesTracked     prometheus.Gauge
	sensorsConnected   prometheus.Gauge
	qualityScore       prometheus.Histogram
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		readingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingested_total",
				Help: "Accepted sensor readings by quality category",
			},
			[]string{"category"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_failures_total",
				Help: "Rejected readings by offending field and transport",
			},
			[]string{"field", "transport"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dropped_messages_total",
				Help: "Messages dropped before processing because a queue was full",
			},
			[]string{"component"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_evictions_total",
				Help: "Devices removed after exceeding the eviction window",
			},
		),
		devicesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_tracked",
				Help: "Devices held by the registry after the last ingest",
			},
		),
		sensorsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensors_connected",
				Help: "Fleet-wide count of sensors reporting plausible values",
			},
		),
		qualityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "quality_score",
				Help:    "Distribution of water-quality scores",
				Buckets: []float64{10, 20, 30, 45, 55, 70, 80, 90, 100},
			},
		),
	}
	m.reg.MustRegister(
		m.readingsIngested,
		m.validationFailures,
		m.dropped,
		m.evictions,
		m.devicesTracked,
		m.sensorsConnected,
		m.qualityScore,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// OnIngest records one accepted reading. It implements registry.Listener.
func (m *Metrics) OnIngest(ev registry.Ingested) {
	m.readingsIngested.WithLabelValues(ev.Result.Category).Inc()
	m.qualityScore.Observe(float64(ev.Result.Score))
	if ev.Evicted > 0 {
		m.evictions.Add(float64(ev.Evicted))
	}
	m.devicesTracked.Set(float64(ev.Tracked))
	m.sensorsConnected.Set(float64(ev.TotalSensors))
}

// ValidationFailed counts a rejected reading. field is empty for bodies
// that are not JSON objects.
func (m *Metrics) ValidationFailed(field, transport string) {
	if field == "" {
		field = "body"
	}
	m.validationFailures.WithLabelValues(field, transport).Inc()
}

// Dropped counts a message discarded by component because its queue was full.
func (m *Metrics) Dropped(component string) {
	m.dropped.WithLabelValues(component).Inc()
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
