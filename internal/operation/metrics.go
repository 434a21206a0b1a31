package operation

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/outbound/internal/operation/auth"
)

// outcomeSuccess labels calls that returned a Result.
const outcomeSuccess = "success"

// Metrics records outbound call metrics. A nil *Metrics records nothing.
type Metrics struct {
	calls         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	blocked       *prometheus.CounterVec
	rateLimitWait prometheus.Histogram
	reg           prometheus.Registerer
}

// NewMetrics creates the call metrics and registers them with reg.
// A nil reg creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		// outbound_calls_total tracks calls by method, outcome and status code
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_calls_total",
				Help: "Total outbound calls by method, outcome and status code",
			},
			[]string{"method", "outcome", "status_code"},
		),

		// outbound_call_duration_seconds tracks end-to-end call latency
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbound_call_duration_seconds",
				Help:    "Outbound call duration in seconds by method and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),

		// outbound_ssrf_blocked_total tracks blocklist rejections
		blocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_ssrf_blocked_total",
				Help: "Total outbound calls rejected by the blocklist, by block name",
			},
			[]string{"block"},
		),

		// outbound_rate_limit_wait_seconds tracks time spent in the limiter
		rateLimitWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outbound_rate_limit_wait_seconds",
				Help:    "Time outbound calls spent waiting for the rate limiter",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		),
	}
}

// RegisterTokenCache exposes token cache statistics as metrics.
func (m *Metrics) RegisterTokenCache(cache *auth.TokenCache) {
	if m == nil || cache == nil {
		return
	}
	factory := promauto.With(m.reg)

	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "outbound_oauth_token_fetches_total",
			Help: "Total OAuth token endpoint calls",
		},
		func() float64 { return float64(cache.Stats().Fetches) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "outbound_oauth_token_cache_hits_total",
			Help: "Total OAuth tokens served from the cache",
		},
		func() float64 { return float64(cache.Stats().Hits) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "outbound_oauth_tokens_cached",
			Help: "Number of cached OAuth tokens",
		},
		func() float64 { return float64(cache.Stats().Entries) },
	)
}

// RecordCall records one finished call. errType is empty on success;
// statusCode is zero when no response arrived.
func (m *Metrics) RecordCall(method string, errType ErrorType, statusCode int, d time.Duration) {
	if m == nil {
		return
	}

	outcome := outcomeSuccess
	if errType != "" {
		outcome = string(errType)
	}
	status := ""
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}

	m.calls.WithLabelValues(method, outcome, status).Inc()
	m.duration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// RecordBlocked records a blocklist rejection. Unnamed blocks are labelled "unnamed".
func (m *Metrics) RecordBlocked(block string) {
	if m == nil {
		return
	}
	if block == "" {
		block = "unnamed"
	}
	m.blocked.WithLabelValues(block).Inc()
}

// RecordRateLimitWait records time spent waiting for the limiter.
func (m *Metrics) RecordRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.Observe(d.Seconds())
}
