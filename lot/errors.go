package lot

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure raised by the transport core.
type ErrorKind uint

const (
	// ErrNoMemory indicates an allocation failure during a session operation.
	ErrNoMemory ErrorKind = iota

	// ErrInvalidParams indicates a public-API call was made with bad arguments.
	ErrInvalidParams

	// ErrInvalidFrame indicates a data or ACK frame failed to decode or validate.
	ErrInvalidFrame

	// ErrInvalidControl indicates a control message failed to decode or was missing a required field.
	ErrInvalidControl

	// ErrNetwork indicates the link reported a send failure.
	ErrNetwork

	// ErrSessionNotFound indicates an operation referenced a session id the table has no record of.
	ErrSessionNotFound

	// ErrSessionInProgress indicates an operation that requires every session to be terminal found one still live (Context.Destroy).
	ErrSessionInProgress

	// ErrMaxSessions indicates the table has no free slot for a new session.
	ErrMaxSessions

	// ErrTimedOut indicates a send session exhausted its retransmit budget.
	ErrTimedOut

	// ErrExpired indicates a session exceeded its session_expiry_ms wall-clock budget.
	ErrExpired

	// ErrInternal indicates a bug or invariant violation within the core.
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoMemory:
		return "NO_MEMORY"
	case ErrInvalidParams:
		return "INVALID_PARAMS"
	case ErrInvalidFrame:
		return "INVALID_FRAME"
	case ErrInvalidControl:
		return "INVALID_CONTROL"
	case ErrNetwork:
		return "NETWORK_ERROR"
	case ErrSessionNotFound:
		return "SESSION_NOT_FOUND"
	case ErrSessionInProgress:
		return "SESSION_IN_PROGRESS"
	case ErrMaxSessions:
		return "MAX_SESSIONS_REACHED"
	case ErrTimedOut:
		return "TIMED_OUT"
	case ErrExpired:
		return "EXPIRED"
	case ErrInternal:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error is the concrete error type returned by every public-API and
// internal operation in this module. It always carries a Kind so callers
// can branch on failure category instead of matching message strings.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lot: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("lot: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newErr builds an *Error for op with the given kind, optionally wrapping cause.
func newErr(op string, kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the ErrorKind from err, if err is (or wraps) an *Error.
// Any other non-nil error is reported as ErrInternal, since the core never
// returns bare errors across a public boundary. Callers must check err !=
// nil themselves; KindOf(nil) returns ErrInternal.
func KindOf(err error) ErrorKind {
	var as *Error
	if errors.As(err, &as) {
		return as.Kind
	}
	return ErrInternal
}
