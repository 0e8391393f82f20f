package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/openlot/openlot/pkg/contextkeys"
	"github.com/openlot/openlot/pkg/observability"
)

// RequestIDHeader carries the request id back to clients and accepts
// ids minted by upstream proxies
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an id and makes it available in the
// context and the response headers
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging injects the base logger into the request context and emits an
// access log line per request
func Logging(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))

			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("request handled")
		})
	}
}

// Recovery converts handler panics into 500 responses instead of
// tearing down the connection
func Recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic": rec,
						"path":  r.URL.Path,
					}).Error("handler panicked")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
