// Package apierror provides standardized error response structures for the ops API.
// All errors returned to clients go through this package so internal details
// (DB errors, feed responses) never leak.
package apierror

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// ValidationError wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "validation failed", Fields: fields}
}

// Common client-facing messages.
const (
	MsgInternal     = "internal server error"
	MsgUnauthorized = "authentication required"
	MsgInvalidToken = "invalid or expired token"
	MsgForbidden    = "insufficient permissions"
	MsgRateLimited  = "too many requests, try again shortly"
)
