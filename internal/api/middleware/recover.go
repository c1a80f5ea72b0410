package middleware

import (
	"errors"
	"net/http"

	"github.com/ayo6706/payout-reconciler/internal/api/problem"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"go.uber.org/zap"
)

// RecoverMiddleware turns a handler panic into a 500 problem response. A panic raised
// after the handler started writing only gets logged, since the status line is gone.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				route := routePattern(r)
				observability.IncrementPanic(route)
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("route", route),
					zap.String("method", r.Method),
					zap.String("request_id", TraceIDFromContext(r.Context())),
					zap.Bool("response_started", tw.started),
					zap.Stack("stack"),
				)
				if tw.started {
					return
				}
				problem.Write(w, r, http.StatusInternalServerError,
					problem.Type("internal-server-error"), "", "unexpected server error")
			}()
			next.ServeHTTP(tw, r)
		})
	}
}

type headerTracker struct {
	http.ResponseWriter
	started bool
}

func (t *headerTracker) WriteHeader(code int) {
	t.started = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}
