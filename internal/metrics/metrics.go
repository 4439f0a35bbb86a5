package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Request lifecycle
	attemptsTotal   *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram

	// Cooldown transitions (edge-triggered)
	cooldownsTotal *prometheus.CounterVec

	// Pool state
	poolSize      *prometheus.GaugeVec
	poolAvailable *prometheus.GaugeVec

	// Feed scraping
	proxiesScraped *prometheus.CounterVec

	// API
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total transport attempts by classified outcome",
			},
			[]string{"outcome"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total logical requests by terminal result",
			},
			[]string{"result"},
		),
		requestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Transport attempt duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		cooldownsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldowns_total",
				Help:      "Total available-to-cooling transitions",
			},
			[]string{"kind"},
		),
		poolSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_size",
				Help:      "Current pool size per kind",
			},
			[]string{"kind"},
		),
		poolAvailable: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_available",
				Help:      "Currently available candidates per kind",
			},
			[]string{"kind"},
		),
		proxiesScraped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxies_scraped_total",
				Help:      "Total proxies scraped from feeds",
			},
			[]string{"source"},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (c *Collector) RecordAttempt(outcome string, seconds float64) {
	c.attemptsTotal.WithLabelValues(outcome).Inc()
	c.requestDuration.Observe(seconds)
}

func (c *Collector) RecordRequest(result string) {
	c.requestsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCooldown(kind string) {
	c.cooldownsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) SetPoolSize(kind string, size int) {
	c.poolSize.WithLabelValues(kind).Set(float64(size))
}

func (c *Collector) SetPoolAvailable(kind string, count int) {
	c.poolAvailable.WithLabelValues(kind).Set(float64(count))
}

func (c *Collector) RecordProxiesScraped(source string, count int) {
	c.proxiesScraped.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
