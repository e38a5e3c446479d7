package types

// Error codes returned in the response envelope.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidationError = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeConflict        = "CONFLICT"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Error represents error information in API responses
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorResponse creates an error API response
func ErrorResponse(code, message, details string) Response {
	return Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ValidationErrorResponse creates a validation error response
func ValidationErrorResponse(details string) Response {
	return ErrorResponse(CodeValidationError, "Invalid input data", details)
}

// UnauthorizedErrorResponse creates an authentication error response
func UnauthorizedErrorResponse(details string) Response {
	return ErrorResponse(CodeUnauthorized, "Authentication failed", details)
}

// ForbiddenErrorResponse creates an authorization error response
func ForbiddenErrorResponse(details string) Response {
	return ErrorResponse(CodeForbidden, "Access denied", details)
}

// NotFoundErrorResponse creates a not found error response
func NotFoundErrorResponse(resource string) Response {
	return ErrorResponse(CodeNotFound, "Resource not found", resource+" not found")
}

// ConflictErrorResponse creates a conflict error response
func ConflictErrorResponse(details string) Response {
	return ErrorResponse(CodeConflict, "Resource conflict", details)
}

// RateLimitedErrorResponse creates a rate limit error response
func RateLimitedErrorResponse(details string) Response {
	return ErrorResponse(CodeRateLimited, "Too many requests", details)
}

// InternalErrorResponse creates an internal server error response
func InternalErrorResponse(details string) Response {
	return ErrorResponse(CodeInternalError, "Internal server error", details)
}
