package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Test data errors
// 13000-13999: Submission, Judge & Executor errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage errors (10400-10499)
	StorageError   ErrorCode = 10400
	ObjectNotFound ErrorCode = 10401

	// ========== Test Data Errors (12000-12999) ==========

	// Test cases (12100-12199)
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102
	TestCaseTooLarge ErrorCode = 12103

	// ========== Submission, Judge & Executor Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeQueueFull    ErrorCode = 13100
	JudgeSystemError  ErrorCode = 13101
	CompilationError  ErrorCode = 13102
	RuntimeError      ErrorCode = 13103
	TimeLimitExceeded ErrorCode = 13104

	// Remote executor transport (13300-13399)
	ExecutorUnavailable ErrorCode = 13300
	ExecutorRejected    ErrorCode = 13301
	ExecutorBadResponse ErrorCode = 13302
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Storage
	StorageError:   "Object storage operation failed",
	ObjectNotFound: "Object not found",

	// Test cases
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",
	TestCaseTooLarge: "Test case file is too large",

	// Submission
	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Judge
	JudgeQueueFull:    "Judge queue is full, please try again later",
	JudgeSystemError:  "Judge system error",
	CompilationError:  "Compilation error",
	RuntimeError:      "Runtime error",
	TimeLimitExceeded: "Time limit exceeded",

	// Executor
	ExecutorUnavailable: "Remote executor is unavailable",
	ExecutorRejected:    "Remote executor rejected the request",
	ExecutorBadResponse: "Remote executor returned a malformed response",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsTransport reports whether the code belongs to the remote executor transport range.
func (c ErrorCode) IsTransport() bool {
	return c >= 13300 && c < 13400
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SubmissionNotFound, c == TestCaseNotFound, c == ObjectNotFound:
		return 404
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable, c == ExecutorUnavailable:
		return 503
	case c == ExecutorRejected, c == ExecutorBadResponse:
		return 502
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge, c == TestCaseInvalid, c == TestCaseTooLarge:
		return 400
	case c == CompilationError, c == RuntimeError, c == TimeLimitExceeded:
		return 422
	default:
		return 500
	}
}
