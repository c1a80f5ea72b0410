package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, keeping raw paths
// (and the payout ids inside them) out of metric labels.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records request durations by route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
