package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind tags a sync failure with its origin.
type Kind string

const (
	KindConfiguration    Kind = "ConfigurationError"
	KindNegotiation      Kind = "NegotiationError"
	KindSource           Kind = "SourceError"
	KindSink             Kind = "SinkError"
	KindStatePersistence Kind = "StatePersistenceError"
)

// Error codes surfaced through operation state.
const (
	CodeConfiguration       = "E_CONFIGURATION"
	CodeNegotiation         = "E_UPDATE_METHOD_NEGOTIATION"
	CodeSourceRead          = "E_SOURCE_READ"
	CodeSinkWrite           = "E_SINK_WRITE"
	CodeSinkCommit          = "E_SINK_COMMIT"
	CodeStatePersistence    = "E_STATE_PERSISTENCE"
	CodeStateInconsistent   = "E_STATE_INCONSISTENT"
	CodeOperationNotFound   = "E_OPERATION_NOT_FOUND"
	CodeTimeout             = "E_TIMEOUT"
	CodeCancelled           = "E_CANCELLED"
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	codeUnknown             = "E_UNKNOWN"
)

func (k Kind) label() string {
	switch k {
	case KindConfiguration:
		return "Configuration error"
	case KindNegotiation:
		return "Negotiation error"
	case KindSource:
		return "Source error"
	case KindSink:
		return "Sink error"
	case KindStatePersistence:
		return "State persistence error"
	}
	return string(k)
}

// Error is a sync failure tagged with its origin.
type Error struct {
	Kind Kind
	Code string

	// Inconsistent marks a failure after data was committed but before the
	// sink state was recorded. It needs manual attention.
	Inconsistent bool

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.label()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Inconsistent {
		msg += " (records were committed to the sink but the sync state was not saved)"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue returns the error code for operation state.
func (e *Error) CodeValue() string {
	if e.Code != "" {
		return e.Code
	}
	var coded codedError
	if errors.As(e.Err, &coded) {
		return coded.CodeValue()
	}
	return codeUnknown
}

// RetryableStatus reports whether re-running may succeed.
func (e *Error) RetryableStatus() bool {
	switch e.Kind {
	case KindConfiguration, KindNegotiation:
		return false
	}
	if e.Inconsistent {
		return false
	}
	var coded codedError
	if errors.As(e.Err, &coded) {
		return coded.RetryableStatus()
	}
	return true
}

type codedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// IsKind reports whether err is a sync error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// wrap tags err with kind unless it already carries a kind.
func wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

func configurationError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Err: fmt.Errorf(format, args...)}
}

// Classify extracts the error code and retryability from any error.
func Classify(err error) (string, bool) {
	var coded codedError
	if errors.As(err, &coded) {
		return coded.CodeValue(), coded.RetryableStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled, false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unreachable") || strings.Contains(msg, "connection refused") {
		return CodeEndpointUnreachable, true
	}
	if strings.Contains(msg, "timeout") {
		return CodeTimeout, true
	}
	return codeUnknown, true
}
