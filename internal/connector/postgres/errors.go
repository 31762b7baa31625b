package postgres

import "fmt"

const (
	CodeConfig        = "E_CONFIG"
	CodeConnect       = "E_ENDPOINT_UNREACHABLE"
	CodeWrite         = "E_SINK_WRITE_FAILED"
	CodeCommit        = "E_SINK_COMMIT_FAILED"
	CodeStateConflict = "E_STATE_CONFLICT"
	CodeValue         = "E_VALUE_CONVERSION"
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
