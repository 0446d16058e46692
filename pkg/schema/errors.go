package schema

import "fmt"

// Canonical error codes. This set is closed: no other code crosses the
// transport boundary.
const (
	ErrCodeBadInput       = "BAD_INPUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeLimitExceeded  = "LIMIT_EXCEEDED"
	ErrCodeServerError    = "SERVER_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeGatewayTimeout = "GATEWAY_TIMEOUT"
	ErrCodeNetworkError   = "NETWORK_ERROR"
	ErrCodeCancelled      = "CANCELLED"
)

// CanonicalError is the structured error type for all client operations.
// Both transports normalize every failure into this shape; callers branch
// on Code and never see raw transport errors.
type CanonicalError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Field      string         `json:"field,omitempty"`
	Max        int            `json:"max,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"` // seconds
	Details    map[string]any `json:"details,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Cause      error          `json:"-"`
}

func (e *CanonicalError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CanonicalError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a retry can plausibly succeed.
// BAD_INPUT and LIMIT_EXCEEDED represent caller error; CANCELLED means the
// caller gave up. Everything else is transient.
func (e *CanonicalError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeBadInput, ErrCodeLimitExceeded, ErrCodeCancelled:
		return false
	default:
		return true
	}
}

// NewError creates a new CanonicalError.
func NewError(code, message string) *CanonicalError {
	return &CanonicalError{Code: code, Message: message}
}

// NewErrorf creates a new CanonicalError with a formatted message.
func NewErrorf(code, format string, args ...any) *CanonicalError {
	return &CanonicalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches the offending field name.
func (e *CanonicalError) WithField(field string) *CanonicalError {
	e.Field = field
	return e
}

// WithMax attaches the limit that was exceeded.
func (e *CanonicalError) WithMax(max int) *CanonicalError {
	e.Max = max
	return e
}

// WithRetryAfter attaches the server-provided retry delay in seconds.
func (e *CanonicalError) WithRetryAfter(seconds int) *CanonicalError {
	e.RetryAfter = seconds
	return e
}

// WithRequestID attaches the correlation ID for support lookups.
func (e *CanonicalError) WithRequestID(id string) *CanonicalError {
	e.RequestID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *CanonicalError) WithCause(err error) *CanonicalError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value diagnostics (original status, body, ...).
func (e *CanonicalError) WithDetails(details map[string]any) *CanonicalError {
	e.Details = details
	return e
}

// ErrorBody is the engine's error response body shape. All fields are
// optional; absence triggers a generic fallback message.
type ErrorBody struct {
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Fields     *ErrorField `json:"fields,omitempty"`
	RetryAfter float64     `json:"retry_after,omitempty"`
	Code       string      `json:"code,omitempty"`
	Limits     *ErrorLimit `json:"limits,omitempty"`
}

// ErrorField pinpoints which input field violated which limit.
type ErrorField struct {
	Field string `json:"field,omitempty"`
	Max   int    `json:"max,omitempty"`
}

// ErrorLimit carries server-side graph limits embedded in an error body.
type ErrorLimit struct {
	Nodes int `json:"nodes,omitempty"`
	Edges int `json:"edges,omitempty"`
}
