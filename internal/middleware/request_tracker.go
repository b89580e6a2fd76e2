package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestTracker records request counts and latency per chi route pattern.
type RequestTracker struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRequestTracker creates the request metrics and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewRequestTracker(reg prometheus.Registerer) (*RequestTracker, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	rt := &RequestTracker{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests received.",
			},
			[]string{"method", "path", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"},
		),
	}

	for _, c := range []prometheus.Collector{rt.requests, rt.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Middleware returns an HTTP middleware that tracks request metrics.
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			code := strconv.Itoa(status)
			path := routePattern(r)

			rt.requests.WithLabelValues(r.Method, path, code).Inc()
			rt.duration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern labels by pattern (e.g. /api/summaries/{id}) so ids do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
