package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Publish path
	PublishesTotal       prometheus.Counter
	PublishFailuresTotal prometheus.Counter
	PayloadTooLargeTotal prometheus.Counter
	ProviderErrorsTotal  prometheus.Counter
	SendDurationSecs     prometheus.Histogram

	// Subscription registry path
	SubscribesTotal       prometheus.Counter
	UnsubscribesTotal     prometheus.Counter
	RegistryFailuresTotal prometheus.Counter
	RateLimitedTotal      prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_publishes_total",
			Help: "Total number of post events accepted for delivery",
		}),
		PublishFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_publish_failures_total",
			Help: "Total number of publishes that failed at the transport",
		}),
		PayloadTooLargeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_payload_too_large_total",
			Help: "Total number of publishes rejected by the size check",
		}),
		ProviderErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_provider_errors_total",
			Help: "Total number of provider-reported send errors on an otherwise successful call",
		}),
		SendDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveblog_push_send_duration_seconds",
			Help:    "Duration of FCM send requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		}),
		SubscribesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_subscribes_total",
			Help: "Total number of topic subscribe calls",
		}),
		UnsubscribesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_unsubscribes_total",
			Help: "Total number of topic unsubscribe calls",
		}),
		RegistryFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_registry_failures_total",
			Help: "Total number of failed subscribe/unsubscribe registry calls",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveblog_push_rate_limited_total",
			Help: "Total number of subscribe requests rejected by the rate limiter",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.PublishesTotal,
		m.PublishFailuresTotal,
		m.PayloadTooLargeTotal,
		m.ProviderErrorsTotal,
		m.SendDurationSecs,
		m.SubscribesTotal,
		m.UnsubscribesTotal,
		m.RegistryFailuresTotal,
		m.RateLimitedTotal,
	)

	return m
}

// RecordSend tracks one transport send attempt. A send only counts as a
// publish when the provider accepted it; a 200 carrying an embedded
// error counts as a provider error instead.
func (m *Metrics) RecordSend(elapsed time.Duration, err error, accepted bool) {
	m.SendDurationSecs.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		m.PublishFailuresTotal.Inc()
	case !accepted:
		m.ProviderErrorsTotal.Inc()
	default:
		m.PublishesTotal.Inc()
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
