// Package observability exposes Prometheus metrics for probing, routing,
// caching, token usage and upstream HTTP calls.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
)

const namespace = "llmrouter"

// Metrics holds all Prometheus collectors of the router.
type Metrics struct {
	gatherer prometheus.Gatherer

	ProbesTotal       *prometheus.CounterVec
	ProbeLatency      *prometheus.HistogramVec
	ProviderAvailable *prometheus.GaugeVec
	RoutesTotal       *prometheus.CounterVec
	RouteDuration     *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      *prometheus.CounterVec
	UpstreamRequests  *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with a fresh registry
// that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers the collectors with reg and serves them from gatherer.
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,

		ProbesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Provider health probes by result.",
		}, []string{"provider", "result"}),

		ProbeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of successful provider probes.",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"provider"}),

		ProviderAvailable: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "1 when the last probe of the provider succeeded.",
		}, []string{"provider"}),

		RoutesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Generation requests by provider and outcome.",
		}, []string{"provider", "outcome"}),

		RouteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "End-to-end duration of generation requests.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"provider", "result"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"provider", "direction"}),

		CostUSDTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Computed cost in USD.",
		}, []string{"provider"}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "HTTP requests sent to providers.",
		}, []string{"provider", "endpoint", "status"}),

		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of HTTP requests sent to providers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveProbe records one probe outcome. err is nil on success.
func (m *Metrics) ObserveProbe(provider string, latency time.Duration, err error) {
	if err != nil {
		m.ProbesTotal.WithLabelValues(provider, "failure").Inc()
		m.ProviderAvailable.WithLabelValues(provider).Set(0)
		return
	}
	m.ProbesTotal.WithLabelValues(provider, "success").Inc()
	m.ProbeLatency.WithLabelValues(provider).Observe(latency.Seconds())
	m.ProviderAvailable.WithLabelValues(provider).Set(1)
}

// RouteCompleted records the outcome of one routed request.
func (m *Metrics) RouteCompleted(provider, outcome string, duration time.Duration) {
	if provider == "" {
		provider = "none"
	}
	m.RoutesTotal.WithLabelValues(provider, outcome).Inc()
	m.RouteDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(provider string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(provider, result).Inc()
}

// UsageRecorded adds the tokens and cost of one provider call.
func (m *Metrics) UsageRecorded(provider string, u core.Usage, cost float64) {
	if u.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "prompt").Add(float64(u.PromptTokens))
	}
	if u.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "completion").Add(float64(u.CompletionTokens))
	}
	if cost > 0 {
		m.CostUSDTotal.WithLabelValues(provider).Add(cost)
	}
}

// Hooks returns llmclient hooks that record every upstream round trip.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			status := "error"
			if info.StatusCode > 0 {
				status = strconv.Itoa(info.StatusCode)
			}
			m.UpstreamRequests.WithLabelValues(info.Provider, info.Endpoint, status).Inc()
			m.UpstreamDuration.WithLabelValues(info.Provider, info.Endpoint).Observe(info.Duration.Seconds())
		},
	}
}
