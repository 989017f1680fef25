package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/platform/metrics"
)

// LatencyMiddleware records request duration per chi route pattern.
func LatencyMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			next.ServeHTTP(w, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.RequestLatencySecond.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
