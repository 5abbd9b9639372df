package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/better-wallet/wallet-core/internal/logger"
)

// HeaderRequestID carries the correlation id in both directions
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID stores a request id in the context and echoes it in the response.
// A well-formed id from the UI layer is reused, otherwise a UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts short printable ASCII ids, keeping log lines intact
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
