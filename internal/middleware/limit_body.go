package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
)

// DefaultMaxBodySize bounds bridge requests. Transaction groups are at most
// 16 transactions of a few KB each.
const DefaultMaxBodySize = 256 << 10

// LimitBody rejects request bodies larger than maxBytes with 413 and buffers
// the rest so handlers read from memory
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var maxBytesErr *http.MaxBytesError
				if errors.As(err, &maxBytesErr) {
					WriteError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Request body too large", http.StatusRequestEntityTooLarge))
					return
				}
				WriteError(w, apperrors.BadRequest("failed to read request body"))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
