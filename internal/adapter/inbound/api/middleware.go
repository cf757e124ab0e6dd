package api

import (
	"net/http"
	"time"

	"enrichd/internal/application/common/logging"
	"enrichd/internal/application/common/slogger"
)

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// NewCorrelationMiddleware ensures every request context carries a
// correlation ID, taking the caller's X-Correlation-ID header when present.
func NewCorrelationMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if header := r.Header.Get("X-Correlation-ID"); header != "" {
				ctx = logging.WithCorrelationID(ctx, header)
			} else {
				ctx = logging.EnsureCorrelationID(ctx)
			}
			w.Header().Set("X-Correlation-ID", logging.CorrelationIDFromContext(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewLoggingMiddleware logs each request with method, path, status and
// duration.
func NewLoggingMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			slogger.Info(r.Context(), "HTTP request", slogger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

// NewRecoveryMiddleware converts handler panics into 500 responses instead
// of tearing the connection down.
func NewRecoveryMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					slogger.Error(r.Context(), "Handler panicked", slogger.Fields{
						"panic": recovered,
						"path":  r.URL.Path,
					})
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
