package api

import (
	"encoding/json"
	"net/http"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a categorized error to its status and body. Server
// side failures are logged and their message is replaced.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := errors.Categorize(err)

	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"category": catErr.Category,
			"path":     r.URL.Path,
		}).Error("Request failed")

		message := "An internal error occurred"
		if catErr.Category == errors.CategoryFatal {
			message = catErr.Message
		}
		respondError(w, catErr.StatusCode, catErr.Code, message, nil)
		return
	}

	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Error codes produced by the HTTP layer itself
const (
	ErrCodeInvalidInput      = errors.CodeInvalidInput
	ErrCodeNotFound          = errors.CodeNotFound
	ErrCodeInternalError     = errors.CodeInternal
	ErrCodeDataUnavailable   = errors.CodeDataUnavailable
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)
