package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Access decision metrics.
var (
	authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Request context decisions by outcome and error code.",
		},
		[]string{"outcome", "code"},
	)

	authDecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_decision_duration_seconds",
			Help:    "Time spent building the request context.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	usersProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_users_provisioned_total",
		Help: "Users created on first login.",
	})

	identityCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_identity_cache_requests_total",
			Help: "Identity cache lookups by result.",
		},
		[]string{"result"},
	)
)

// buildInfo is constant 1, labelled with what is running.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Version and commit of the running API.",
	},
	[]string{"version", "commit"},
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authDecisions, authDecisionDuration, usersProvisioned, identityCacheRequests,
			buildInfo,
		)
	})
}

// InitBuildInfo registers the metrics and publishes version and commit.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthDecision records one request context outcome ("demo",
// "authenticated", "rejected") with its error code, empty on success.
func ObserveAuthDecision(outcome, code string, d time.Duration) {
	authDecisions.WithLabelValues(outcome, code).Inc()
	authDecisionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// UserProvisioned counts a just-in-time user creation.
func UserProvisioned() {
	usersProvisioned.Inc()
}

// IdentityCacheLookup counts one identity cache lookup.
func IdentityCacheLookup(result string) {
	identityCacheRequests.WithLabelValues(result).Inc()
}

// RouteLabel is the chi route pattern that served r, so that ids in paths do
// not blow up label cardinality. Unrouted requests share one label.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Instrument wraps next with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := RouteLabel(r)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
