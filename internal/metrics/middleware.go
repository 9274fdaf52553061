package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// routeUnmatched labels requests that hit no registered route, so scans of
// arbitrary paths stay in a single series.
const routeUnmatched = "unmatched"

var (
	statusRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecbench",
			Name:      "status_request_duration_seconds",
			Help:      "Status server request duration by route",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"route"},
	)

	statusRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecbench",
			Name:      "status_requests_total",
			Help:      "Status server requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(statusRequestDuration, statusRequestsTotal)
}

// Middleware records status server requests per chi route pattern. It must
// be installed with Use on the router so the pattern is resolved once the
// handler returns.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routeOf(r)
			statusRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			statusRequestsTotal.WithLabelValues(route, strconv.Itoa(statusOf(ww))).Inc()
		})
	}
}

func routeOf(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil || rc.RoutePattern() == "" {
		return routeUnmatched
	}
	return rc.RoutePattern()
}

// statusOf treats a handler that wrote nothing as an implicit 200.
func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
