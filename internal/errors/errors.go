// Package errors defines the categorized error taxonomy for the portfolio
// performance core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryIntegrity represents data-integrity faults
	CategoryIntegrity ErrorCategory = "integrity"
	// CategoryConflict represents write conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryComputation represents performance-computation outcomes that
	// are not numeric results
	CategoryComputation ErrorCategory = "computation"
	// CategoryPriceSource represents external price source errors
	CategoryPriceSource ErrorCategory = "price_source"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Stable error codes. Callers branch on codes, not message text.
const (
	CodeDuplicateSnapshot    = "DUPLICATE_SNAPSHOT"
	CodeNonTradingInstant    = "NON_TRADING_INSTANT"
	CodeTimezoneMisalignment = "TIMEZONE_MISALIGNMENT"
	CodeInsufficientData     = "INSUFFICIENT_DATA"
	CodeNotComputable        = "NOT_COMPUTABLE"
	CodeStalePrice           = "STALE_PRICE"
	CodePriceSourceError     = "PRICE_SOURCE_ERROR"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeCacheError           = "CACHE_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeInternalError        = "INTERNAL_ERROR"
)

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// NewDuplicateSnapshotError creates a write-conflict error for an existing
// (user, trading date) daily snapshot written without overwrite intent.
func NewDuplicateSnapshotError(userID string, tradingDate time.Time) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeDuplicateSnapshot,
		Message:    fmt.Sprintf("daily snapshot already exists for user %s on %s", userID, tradingDate.Format("2006-01-02")),
		Details: map[string]interface{}{
			"userId":      userID,
			"tradingDate": tradingDate.Format("2006-01-02"),
		},
	}
}

// NewNonTradingInstantError rejects an intraday capture whose derived
// trading date is not a trading day.
func NewNonTradingInstantError(userID string, capturedAt time.Time) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeNonTradingInstant,
		Message:    fmt.Sprintf("capture instant %s falls outside a trading day", capturedAt.Format(time.RFC3339)),
		Details: map[string]interface{}{
			"userId":     userID,
			"capturedAt": capturedAt.Format(time.RFC3339),
		},
	}
}

// NewTimezoneMisalignmentError flags a stored snapshot whose trading date
// disagrees with the calendar's recomputation of its capture instant.
func NewTimezoneMisalignmentError(userID string, capturedAt, storedDate time.Time) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIntegrity,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeTimezoneMisalignment,
		Message:    fmt.Sprintf("snapshot date %s disagrees with recomputed local date of %s", storedDate.Format("2006-01-02"), capturedAt.Format(time.RFC3339)),
		Details: map[string]interface{}{
			"userId":     userID,
			"capturedAt": capturedAt.Format(time.RFC3339),
			"storedDate": storedDate.Format("2006-01-02"),
		},
	}
}

// NewInsufficientDataError reports a window with fewer than two usable
// snapshots. Distinct from a genuine 0% return.
func NewInsufficientDataError(snapshots int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryComputation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientData,
		Message:    fmt.Sprintf("window holds %d snapshots, need at least 2", snapshots),
		Details: map[string]interface{}{
			"snapshots": snapshots,
		},
	}
}

// NewNotComputableError reports a degenerate denominator in the return
// formula. Callers surface this state instead of a 0% return.
func NewNotComputableError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryComputation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeNotComputable,
		Message:    fmt.Sprintf("return not computable: %s", reason),
	}
}

// NewStalePriceError marks a computation that proceeded on a last known
// value after the live fetch failed. The result is degraded, not absent.
func NewStalePriceError(ticker string, asOf time.Time, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPriceSource,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeStalePrice,
		Message:    fmt.Sprintf("serving stale price for %s (as of %s)", ticker, asOf.Format(time.RFC3339)),
		Cause:      cause,
		Details: map[string]interface{}{
			"ticker": ticker,
			"asOf":   asOf.Format(time.RFC3339),
		},
	}
}

// NewPriceSourceError creates an external price source error with no usable
// fallback value.
func NewPriceSourceError(ticker string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPriceSource,
		StatusCode: http.StatusBadGateway,
		Code:       CodePriceSourceError,
		Message:    fmt.Sprintf("price fetch failed for %s", ticker),
		Cause:      cause,
		Details: map[string]interface{}{
			"ticker": ticker,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache layer error.
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCacheError,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// GetStatusCode extracts the HTTP status code from an error. Uncategorized
// errors map to 500.
func GetStatusCode(err error) int {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return http.StatusInternalServerError
}
