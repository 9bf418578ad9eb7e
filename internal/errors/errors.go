package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")
	ErrMissingParameter = New(http.StatusBadRequest, "MISSING_PARAMETER", "Required parameter is missing")
	ErrInvalidParameter = New(http.StatusBadRequest, "INVALID_PARAMETER", "Invalid parameter value")
	ErrUnknownProvider  = New(http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown data provider")

	// 404 Not Found
	ErrNotFound           = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInstrumentNotFound = New(http.StatusNotFound, "INSTRUMENT_NOT_FOUND", "Instrument not found")
	ErrRunNotFound        = New(http.StatusNotFound, "RUN_NOT_FOUND", "Reconciliation run not found")

	// 409 Conflict
	ErrConflict  = New(http.StatusConflict, "CONFLICT", "Resource conflict")
	ErrRunActive = New(http.StatusConflict, "RUN_ALREADY_ACTIVE", "A reconciliation run is already in progress")

	// 429 Too Many Requests
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")

	// 500 Internal Server Error
	ErrInternalServer  = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrReconcileFailed = New(http.StatusInternalServerError, "RECONCILE_FAILED", "Reconciliation run failed")
	ErrStorage         = New(http.StatusInternalServerError, "STORAGE_ERROR", "Storage error")

	// 502 Bad Gateway
	ErrUpstreamProvider = New(http.StatusBadGateway, "UPSTREAM_PROVIDER_ERROR", "Upstream provider request failed")

	// 503 Service Unavailable
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
)

// Helper functions for specific error types

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation creates a validation error with field details
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// NotFoundError creates a not found error with details
func NotFoundError(resource string) *APIError {
	return NewWithDetails(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}

// UnknownProviderError creates an error for an unrecognized provider name
func UnknownProviderError(provider string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "UNKNOWN_PROVIDER", fmt.Sprintf("unknown provider %q", provider), provider)
}

// RunActiveError creates a conflict error carrying the active run's identifier
func RunActiveError(runID string) *APIError {
	return NewWithDetails(http.StatusConflict, "RUN_ALREADY_ACTIVE", "A reconciliation run is already in progress", runID)
}

// ErrReconcileExecution creates a reconciliation execution error
func ErrReconcileExecution(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, "RECONCILE_FAILED", "Reconciliation run failed", err.Error())
}

// StorageError creates a storage error with operation context
func StorageError(operation string, err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, "STORAGE_ERROR", fmt.Sprintf("Storage error during %s", operation), err.Error())
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// NewValidationErrors creates validation errors from multiple fields
func NewValidationErrors(errors []ValidationError) *APIError {
	return NewWithDetails(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"Request validation failed",
		ValidationErrors{Errors: errors},
	)
}
