package bufmap

import (
	"errors"
	"fmt"
)

// Status is the backend-independent result of a mapping operation.
type Status int

// Statuses shared by both backend generations.
const (
	// StatusOK means the operation succeeded.
	StatusOK Status = iota

	// StatusBadHandle means the handle is invalid or not registered.
	StatusBadHandle

	// StatusUnsupported means the operation, format or layout is not supported.
	StatusUnsupported

	// StatusNoResources means the backend ran out of resources.
	StatusNoResources

	// StatusOther is any other backend failure.
	StatusOther
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadHandle:
		return "BadHandle"
	case StatusUnsupported:
		return "Unsupported"
	case StatusNoResources:
		return "NoResources"
	case StatusOther:
		return "Other"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Sentinel errors, one per failing Status. Every *Error matches the sentinel
// of its Status with errors.Is.
var (
	ErrBadHandle   = errors.New("bufmap: bad buffer handle")
	ErrUnsupported = errors.New("bufmap: unsupported")
	ErrNoResources = errors.New("bufmap: no resources")
	ErrOther       = errors.New("bufmap: backend failure")

	// ErrNoBackend is returned by New when neither backend generation can
	// be constructed.
	ErrNoBackend = errors.New("bufmap: no mapping backend available")
)

func (s Status) sentinel() error {
	switch s {
	case StatusOK:
		return nil
	case StatusBadHandle:
		return ErrBadHandle
	case StatusUnsupported:
		return ErrUnsupported
	case StatusNoResources:
		return ErrNoResources
	default:
		return ErrOther
	}
}

// Error is returned by BufferMapper operations that fail.
type Error struct {
	// Op is the failing operation, e.g. "lock".
	Op string

	// Handle is the buffer the operation was applied to.
	Handle Handle

	// Status is the normalized failure.
	Status Status

	// Err is an optional underlying cause, such as a *LayoutError.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bufmap: %s(%v): %v: %v", e.Op, e.Handle, e.Status, e.Err)
	}
	return fmt.Sprintf("bufmap: %s(%v): %v", e.Op, e.Handle, e.Status)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of e's Status.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Status.sentinel()
}

// StatusOf returns the Status carried by err. A nil error is StatusOK and
// errors that did not come from this package are StatusOther.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	switch {
	case errors.Is(err, ErrBadHandle):
		return StatusBadHandle
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrNoResources):
		return StatusNoResources
	}
	return StatusOther
}

// newError returns nil for StatusOK and an *Error otherwise.
func newError(op string, h Handle, s Status) error {
	if s == StatusOK {
		return nil
	}
	return &Error{Op: op, Handle: h, Status: s}
}
