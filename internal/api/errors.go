package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/portfolio-pulse/internal/errors"
)

// ErrorBody is the JSON shape of an API error.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// respondServiceError maps a categorized error onto the wire.
func respondServiceError(w http.ResponseWriter, err error) {
	var categorized *errors.CategorizedError
	if stderrors.As(err, &categorized) {
		respondError(w, categorized.StatusCode, categorized.Code, categorized.Message, categorized.Details)
		return
	}
	respondError(w, http.StatusInternalServerError, errors.CodeInternalError, "An internal server error occurred", nil)
}
