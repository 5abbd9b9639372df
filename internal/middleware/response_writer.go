package middleware

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
)

// StatusRecorder wraps http.ResponseWriter to capture the response status code.
// Only the first WriteHeader call takes effect.
type StatusRecorder struct {
	http.ResponseWriter
	StatusCode int
	written    bool
}

// NewStatusRecorder creates a new StatusRecorder with a default status of 200 OK
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if !r.written {
		r.StatusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	UserMessage string `json:"user_message"`
}

// WriteError writes err as a JSON body with its status code
func WriteError(w http.ResponseWriter, err *apperrors.AppError) {
	status := err.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Code:        err.Code,
		Message:     err.Message,
		Detail:      err.Detail,
		UserMessage: apperrors.UserMessage(err),
	})
}
