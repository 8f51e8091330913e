package devirt

import (
	"errors"
	"fmt"
)

var (
	// ErrLandmarkNotFound is returned when the setup routine or one of the
	// builders cannot be located.
	ErrLandmarkNotFound = errors.New("landmark method not found")
	// ErrUnsupportedCallingConvention is returned when a stub original does
	// not use the default calling convention.
	ErrUnsupportedCallingConvention = errors.New("calling convention is not supported")
	// ErrSkip marks a failure that only affects one stub.
	ErrSkip = errors.New("stub skipped")
)

// SkipError reports a stub that could not be restored.
type SkipError struct {
	Stub   Stub
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	msg := fmt.Sprintf("method %s: %s", proxyToken(e.Stub), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SkipError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSkip}
	}
	return []error{ErrSkip, e.Err}
}

func skip(s Stub, err error, format string, args ...interface{}) error {
	return &SkipError{Stub: s, Reason: fmt.Sprintf(format, args...), Err: err}
}
