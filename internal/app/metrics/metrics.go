package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "petition",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petition",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petition",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petition",
			Subsystem: "domain",
			Name:      "mutations_total",
			Help:      "Completed domain writes by resource and action.",
		},
		[]string{"resource", "action"},
	)

	ruleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petition",
			Subsystem: "domain",
			Name:      "rejections_total",
			Help:      "Requests refused by a business rule, by error code.",
		},
		[]string{"code"},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petition",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"success"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "petition",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
	)

	imageBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petition",
			Subsystem: "content",
			Name:      "image_upload_bytes",
			Help:      "Size of accepted image uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB to 16MiB
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mutations,
		ruleRejections,
		logins,
		rateLimited,
		imageBytes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InFlight adjusts the in-flight request gauge by delta.
func InFlight(delta float64) {
	httpInFlight.Add(delta)
}

// ObserveRequest records one handled HTTP request. path should be the route
// template so ids do not explode label cardinality.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMutation counts a committed write, e.g. ("petition", "create").
func RecordMutation(resource, action string) {
	mutations.WithLabelValues(resource, action).Inc()
}

// RecordRejection counts a client error by its code.
func RecordRejection(code string) {
	if code == "" {
		code = "unknown"
	}
	ruleRejections.WithLabelValues(code).Inc()
}

// RecordLogin counts a login attempt.
func RecordLogin(success bool) {
	logins.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordRateLimited counts a throttled request.
func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordImageUpload observes the size of a stored image; kind is "petition" or "user".
func RecordImageUpload(kind string, size int) {
	imageBytes.WithLabelValues(kind).Observe(float64(size))
}
