// Package metrics exposes the core's Prometheus instrumentation, grounded on
// the teacher's internal/metrics/metrics.go promauto idiom (namespaced
// CounterVec/HistogramVec/GaugeVec fields populated in one constructor,
// typed Record* methods, a package-level DefaultMetrics for code that can't
// take a constructor dependency).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the core exports.
type Metrics struct {
	// Resolver (spec §4.1)
	ResolveRequests  *prometheus.CounterVec
	ResolveLatency   *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	TargetingRejects *prometheus.CounterVec

	// Click Recorder (spec §4.2)
	ClicksRecorded *prometheus.CounterVec
	GeoLookups     *prometheus.HistogramVec

	// Attribution Engine (spec §4.3)
	AttributionScore   *prometheus.HistogramVec
	AttributionMatches *prometheus.CounterVec
	InAppEvents        *prometheus.CounterVec

	// Webhook Dispatcher (spec §4.4)
	WebhookDeliveries     *prometheus.CounterVec
	WebhookDeliveryLength *prometheus.HistogramVec

	// Event Bus (spec §4.5)
	EventBusSubscribers prometheus.Gauge
	EventBusPublished   prometheus.Counter
	EventBusDropped     prometheus.Counter

	// Ambient (HTTP/storage, shared across components)
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	RateLimitHits *prometheus.CounterVec
	DBConnections *prometheus.GaugeVec
}

// DefaultMetrics is the most recently created instance, set by NewMetrics.
var DefaultMetrics *Metrics

// NewMetrics creates and registers every metric under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		ResolveRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolve_requests_total",
				Help:      "Total link resolution requests by outcome reason code",
			},
			[]string{"reason"},
		),
		ResolveLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_latency_seconds",
				Help:      "Link resolution latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"reason"},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_cache_hits_total",
				Help:      "Link cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_cache_misses_total",
				Help:      "Link cache misses",
			},
			[]string{"cache"},
		),
		TargetingRejects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targeting_rejects_total",
				Help:      "Resolve requests rejected by targeting rules",
			},
			[]string{"rule"},
		),

		ClicksRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_recorded_total",
				Help:      "Clicks recorded by device class",
			},
			[]string{"device_class"},
		),
		GeoLookups: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),

		AttributionScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attribution_score",
				Help:      "Best candidate score considered per install report",
				Buckets:   []float64{10, 30, 50, 70, 80, 90, 100},
			},
			[]string{"matched"},
		),
		AttributionMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_matches_total",
				Help:      "Install reports by attribution outcome",
			},
			[]string{"outcome"},
		),
		InAppEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "in_app_events_total",
				Help:      "In-app events recorded by name",
			},
			[]string{"name"},
		),

		WebhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts by event type and outcome",
			},
			[]string{"event", "success"},
		),
		WebhookDeliveryLength: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_delivery_attempts",
				Help:      "Number of attempts a webhook delivery took to settle",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"event"},
		),

		EventBusSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "eventbus_subscribers",
				Help:      "Current live-stream subscriber count",
			},
		),
		EventBusPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eventbus_published_total",
				Help:      "Total events published to the bus",
			},
		),
		EventBusDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eventbus_dropped_total",
				Help:      "Events dropped because a subscriber's buffer was full",
			},
		),

		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_latency_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint", "ip"},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordResolve records one resolve outcome and its latency.
func (m *Metrics) RecordResolve(reason string, latency time.Duration) {
	m.ResolveRequests.WithLabelValues(reason).Inc()
	m.ResolveLatency.WithLabelValues(reason).Observe(latency.Seconds())
}

// RecordCacheHit records a link cache hit.
func (m *Metrics) RecordCacheHit(cache string) { m.CacheHits.WithLabelValues(cache).Inc() }

// RecordCacheMiss records a link cache miss.
func (m *Metrics) RecordCacheMiss(cache string) { m.CacheMisses.WithLabelValues(cache).Inc() }

// RecordTargetingReject records a resolve rejected by a targeting rule.
func (m *Metrics) RecordTargetingReject(rule string) {
	m.TargetingRejects.WithLabelValues(rule).Inc()
}

// RecordClick records one recorded click.
func (m *Metrics) RecordClick(deviceClass string) {
	m.ClicksRecorded.WithLabelValues(deviceClass).Inc()
}

// RecordGeoLookup records a geo lookup's latency and cache status.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	m.GeoLookups.WithLabelValues(boolLabel(cacheHit)).Observe(latency.Seconds())
}

// RecordAttribution records the score considered and whether it matched.
func (m *Metrics) RecordAttribution(matched bool, score int) {
	m.AttributionScore.WithLabelValues(boolLabel(matched)).Observe(float64(score))
	outcome := "no_match"
	if matched {
		outcome = "matched"
	}
	m.AttributionMatches.WithLabelValues(outcome).Inc()
}

// RecordInAppEvent records one in-app event by name.
func (m *Metrics) RecordInAppEvent(name string) { m.InAppEvents.WithLabelValues(name).Inc() }

// RecordWebhookDelivery records one webhook delivery attempt's outcome.
func (m *Metrics) RecordWebhookDelivery(event string, success bool) {
	m.WebhookDeliveries.WithLabelValues(event, boolLabel(success)).Inc()
}

// RecordWebhookSettled records how many attempts a delivery took to settle.
func (m *Metrics) RecordWebhookSettled(event string, attempts int) {
	m.WebhookDeliveryLength.WithLabelValues(event).Observe(float64(attempts))
}

// SetEventBusSubscribers updates the live subscriber gauge.
func (m *Metrics) SetEventBusSubscribers(n int) { m.EventBusSubscribers.Set(float64(n)) }

// RecordEventBusPublish records one publish, and one drop if the event was
// dropped for any subscriber.
func (m *Metrics) RecordEventBusPublish(dropped bool) {
	m.EventBusPublished.Inc()
	if dropped {
		m.EventBusDropped.Inc()
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint, ip string) {
	m.RateLimitHits.WithLabelValues(endpoint, ip).Inc()
}

// UpdateDBStats updates database connection pool gauges.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
