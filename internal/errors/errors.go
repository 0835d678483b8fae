package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
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

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// Predefined error types for common scenarios. The messages double as
// the client-facing error strings, so they are part of the wire
// contract.
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrInvalidKeyFormat = New(http.StatusBadRequest, "INVALID_KEY_FORMAT", "Invalid license key format")

	// 401 Unauthorized
	ErrSignatureInvalid = New(http.StatusUnauthorized, "SIGNATURE_INVALID", "Invalid signature")

	// 403 Forbidden
	ErrLicenseInactive = New(http.StatusForbidden, "LICENSE_INACTIVE", "License key is inactive")
	ErrLicenseExpired  = New(http.StatusForbidden, "LICENSE_EXPIRED", "License key is expired")

	// 404 Not Found
	ErrLicenseNotFound = New(http.StatusNotFound, "LICENSE_NOT_FOUND", "License key not found")
	ErrDeviceNotFound  = New(http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found for this license")

	// 409 Conflict
	ErrDeviceLimitReached = New(http.StatusConflict, "DEVICE_LIMIT_REACHED", "Maximum devices reached for this license")

	// 500 Internal Server Error
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)
