// Package apperr defines the error taxonomy shared by every render stage.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for reporting and exit-code selection.
type Kind string

const (
	KindInput         Kind = "input"
	KindDetection     Kind = "detection"
	KindExternalTool  Kind = "external_tool"
	KindConfiguration Kind = "configuration"
	KindInternal      Kind = "internal"
)

// Error is a classified failure. Output carries the captured tail of an
// external process when Kind is KindExternalTool.
type Error struct {
	Kind   Kind
	Op     string
	Tool   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Tool != "" {
		msg += " (" + e.Tool + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &apperr.Error{Kind: apperr.KindDetection}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Input reports a violated precondition such as a missing image.
func Input(op string, err error) *Error {
	return &Error{Kind: KindInput, Op: op, Err: err}
}

// Inputf is Input with a formatted cause.
func Inputf(op, format string, args ...any) *Error {
	return Input(op, fmt.Errorf(format, args...))
}

// Detection reports that no face was found.
func Detection(op string, err error) *Error {
	return &Error{Kind: KindDetection, Op: op, Err: err}
}

// ExternalTool reports a non-zero exit or a missing output artifact.
func ExternalTool(tool, op, output string, err error) *Error {
	return &Error{Kind: KindExternalTool, Tool: tool, Op: op, Output: output, Err: err}
}

// Configuration reports a missing capability of the host toolchain.
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// OutputOf returns the captured process output attached to err, if any.
func OutputOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Output
	}
	return ""
}

// ExitCode maps an error to a process exit status. Nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInput:
		return 2
	case KindDetection:
		return 3
	case KindExternalTool:
		return 4
	case KindConfiguration:
		return 5
	default:
		return 1
	}
}
