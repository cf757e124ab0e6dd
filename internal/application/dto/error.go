package dto

// ErrorCode identifies an API error condition.
type ErrorCode string

// API error codes.
const (
	ErrorCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorCodeJobNotFound      ErrorCode = "JOB_NOT_FOUND"
	ErrorCodeJobExpired       ErrorCode = "JOB_EXPIRED"
	ErrorCodeQueueSaturated   ErrorCode = "QUEUE_SATURATED"
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse is the uniform API error body.
type ErrorResponse struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}
