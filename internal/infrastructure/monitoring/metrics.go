package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
//
// Each Metrics instance owns its registry so isolated gateways (and tests)
// never fight over the default global one.
type Metrics struct {
	registry *prometheus.Registry

	// Access control metrics
	Verdicts *prometheus.CounterVec

	// Cache metrics
	CacheLookups      *prometheus.CounterVec
	CacheStores       prometheus.Counter
	CacheEvictions    prometheus.Counter
	CacheRevalidation *prometheus.CounterVec
	CacheDiskBytes    prometheus.Gauge

	// Delivery metrics
	DeliveryRequests *prometheus.CounterVec
	ServedFiles      prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector with a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		Verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_access_verdicts_total",
				Help: "URL classifications by verdict",
			},
			[]string{"verdict"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_lookups_total",
				Help: "Cache lookups by outcome (fresh, stale, expired, miss)",
			},
			[]string{"outcome"},
		),
		CacheStores: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_stores_total",
				Help: "Cache store operations",
			},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_evictions_total",
				Help: "Disk entries evicted to enforce the quota",
			},
		),
		CacheRevalidation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_revalidations_total",
				Help: "Background revalidations by result (not_modified, updated, failed)",
			},
			[]string{"result"},
		),
		CacheDiskBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_cache_disk_bytes",
				Help: "Current disk tier size in bytes",
			},
		),

		DeliveryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_delivery_requests_total",
				Help: "Delivery server requests by route and status",
			},
			[]string{"route", "status"},
		),
		ServedFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_delivery_served_files",
				Help: "Files currently registered with the delivery server",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_uptime_seconds",
				Help: "Gateway uptime in seconds",
			},
		),
	}
}

// Registry exposes the private registry for scraping handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordVerdict counts one access-control classification.
func (m *Metrics) RecordVerdict(verdict string) {
	m.Verdicts.WithLabelValues(verdict).Inc()
}

// RecordLookup counts one cache lookup outcome.
func (m *Metrics) RecordLookup(outcome string) {
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordRevalidation counts one revalidation result.
func (m *Metrics) RecordRevalidation(result string) {
	m.CacheRevalidation.WithLabelValues(result).Inc()
}

// RecordDeliveryRequest counts one delivery server request.
func (m *Metrics) RecordDeliveryRequest(route, status string) {
	m.DeliveryRequests.WithLabelValues(route, status).Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
