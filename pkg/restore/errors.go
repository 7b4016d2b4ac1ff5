package restore

import "fmt"

// Kind enumerates the engine's error categories (spec §7).
type Kind string

const (
	KindRejected         Kind = "rejected"
	KindInvalidMetadata  Kind = "invalid_metadata"
	KindPrecondition     Kind = "precondition"
	KindRequiredNodeLeft Kind = "required_node_left"
	KindInterrupted      Kind = "interrupted"
	KindIO               Kind = "io"
	KindApply            Kind = "apply"
	KindRemoteFetch      Kind = "remote_fetch"
)

// Error wraps an underlying cause with the engine's error kind, so callers
// can branch on Kind via errors.As while still seeing the original error
// through errors.Unwrap/errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original cause to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, restore.NewError(KindRejected, "", nil)) works as a
// kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	// ErrRequiredNodeLeft is the sentinel installed by the membership
	// listener when a baseline member drops out mid-attempt.
	ErrRequiredNodeLeft = NewError(KindRequiredNodeLeft, "required node left", nil)
	// ErrInterruptedByUser is the sentinel installed by cancel().
	ErrInterruptedByUser = NewError(KindInterrupted, "interrupted by user", nil)
)
