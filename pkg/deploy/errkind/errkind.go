// Package errkind implements the deployment pipeline's error taxonomy.
//
// Every error that can terminate a node's state machine or abort the
// pipeline up front carries one of a fixed set of Kinds so that callers can
// branch on *why* something failed without parsing message text.
package errkind

import "fmt"

// Kind is one of the error categories a deployment can fail with.
type Kind string

const (
	Configuration Kind = "configuration"
	Evaluation    Kind = "evaluation"
	Realization   Kind = "realization"
	Transport     Kind = "transport"
	Policy        Kind = "policy"
	Activation    Kind = "activation"
	Cancelled     Kind = "cancelled"
	Unsupported   Kind = "unsupported"
	Internal      Kind = "internal"
)

// Error is a kinded, optionally-wrapped error with an optional captured
// tail of subprocess output for diagnosis (spec §7: "the captured last N
// lines of the relevant subprocess output").
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Output  []string
	Global  bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an unwrapped error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an unwrapped error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an error of the given kind wrapping cause.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf constructs an error of the given kind wrapping cause with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithOutput attaches a captured subprocess output tail and returns e for chaining.
func (e *Error) WithOutput(lines []string) *Error {
	e.Output = lines
	return e
}

// KindOf reports the Kind of err if it is (or wraps, via errors.As semantics
// on this concrete type) an *Error, and whether one was found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// AsGlobal marks e as a fleet-wide failure rather than a single node's
// failure — for the evaluator, this means the fleet description itself is
// unloadable and every sibling in the chunk must fail with it, rather than
// only the node being evaluated.
func (e *Error) AsGlobal() *Error {
	e.Global = true
	return e
}

// IsGlobal reports whether err (or a wrapped cause) was marked with AsGlobal.
func IsGlobal(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Global
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}
