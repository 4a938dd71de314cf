package models

// ErrorCode is the closed set of machine-readable error tags crossing the
// HTTP and event-bus boundaries. The core never carries stack traces or
// wrapped error chains across these edges, only a code plus a human message.
type ErrorCode string

const (
	ErrCodeJobValidation       ErrorCode = "JOB_VALIDATION_ERROR"
	ErrCodeJobNotFound         ErrorCode = "JOB_NOT_FOUND"
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionNotActive    ErrorCode = "SESSION_NOT_ACTIVE"
	ErrCodeSessionAccess       ErrorCode = "SESSION_ACCESS_DENIED"
	ErrCodeMaxTurnsReached     ErrorCode = "MAX_TURNS_REACHED"
	ErrCodeSessionIdleTimeout  ErrorCode = "SESSION_IDLE_TIMEOUT"
	ErrCodeSessionBusy         ErrorCode = "SESSION_BUSY"
	ErrCodeLLMTimeout          ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMError            ErrorCode = "LLM_ERROR"
	ErrCodeParameterValidation ErrorCode = "PARAMETER_VALIDATION"
	ErrCodeConfigNotFound      ErrorCode = "CONFIGURATION_NOT_FOUND"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// RetryAfterHint returns the client-facing retry guidance for worker-side
// failures, in seconds. Zero means retry immediately; negative means the
// failure is not retryable. The worker itself never retries.
func (c ErrorCode) RetryAfterHint() int {
	switch c {
	case ErrCodeLLMTimeout:
		return 0
	case ErrCodeLLMError:
		return 10
	case ErrCodeInternal:
		return 30
	default:
		return -1
	}
}
