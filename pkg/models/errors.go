package models

// ErrorCode is a stable, user-surfaceable failure code. Provider-specific
// error text never leaves the stage runner; only these codes do.
type ErrorCode string

// Stable error codes.
const (
	ErrCodeSafetyInput    ErrorCode = "SAFETY_INPUT"
	ErrCodeSafetyOutput   ErrorCode = "SAFETY_OUTPUT"
	ErrCodeLLMTimeout     ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMJSONInvalid ErrorCode = "LLM_JSON_INVALID"
	ErrCodeImageTimeout   ErrorCode = "IMAGE_TIMEOUT"
	ErrCodeImageRateLimit ErrorCode = "IMAGE_RATE_LIMIT"
	ErrCodeImageFailed    ErrorCode = "IMAGE_FAILED"
	ErrCodeStorageUpload  ErrorCode = "STORAGE_UPLOAD_FAILED"
	ErrCodeDBWriteFailed  ErrorCode = "DB_WRITE_FAILED"
	ErrCodeNoCredits      ErrorCode = "NO_CREDITS"
	ErrCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrCodeDailyLimit     ErrorCode = "DAILY_LIMIT"
	ErrCodeOverloaded     ErrorCode = "OVERLOADED"
	ErrCodeStuckTimeout   ErrorCode = "STUCK_TIMEOUT"
	ErrCodeSLABreach      ErrorCode = "SLA_BREACH"
	ErrCodeUnknown        ErrorCode = "UNKNOWN"
)
