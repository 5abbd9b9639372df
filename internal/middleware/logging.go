package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
)

// RequestLogger logs one line per request and records request metrics.
// Must run after RequestID so the line carries the id.
func RequestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequest(r.Method, route, rec.StatusCode, elapsed)

			level := slog.LevelInfo
			if rec.StatusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.FromContext(r.Context()).Log(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.StatusCode),
				slog.Duration("elapsed", elapsed),
				slog.Any("headers", RedactHeaders(r.Header)),
			)
		})
	}
}
