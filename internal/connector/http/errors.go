package http

import "fmt"

const (
	CodeConfig           = "E_CONFIG"
	CodeUnreachable      = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid      = "E_AUTH_INVALID"
	CodePermissionDenied = "E_PERMISSION_DENIED"
	CodeNotFound         = "E_NOT_FOUND"
	CodeRateLimited      = "E_RATE_LIMITED"
	CodeRetriesExhausted = "E_RETRIES_EXHAUSTED"
	CodeHTTP             = "E_HTTP"
	CodeDecode           = "E_RESPONSE_INVALID"
)

// Error carries a code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }
