// Package sberr holds the core error type shared by shadowbox and its
// internal packages. It is split out from the root shadowbox package so
// that internal packages can depend on it without creating an import
// cycle with shadowbox itself, which depends on those internal packages.
package sberr

import "fmt"

// Kind enumerates the distinguishable error categories the core surfaces.
// Every fallible operation in the core returns an error satisfying
// errors.As into *Error, whose Kind a frontend can switch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAuthFailure
	KindLocked
	KindIntegrityFailure
	KindIOError
	KindProtocolError
	KindTimeout
	KindCancelled
	KindConflict
	KindQuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAuthFailure:
		return "AuthFailure"
	case KindLocked:
		return "Locked"
	case KindIntegrityFailure:
		return "IntegrityFailure"
	case KindIOError:
		return "IOError"
	case KindProtocolError:
		return "ProtocolError"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindConflict:
		return "Conflict"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	default:
		return "Unknown"
	}
}

// Error is the single error type every core operation returns. It carries
// a Kind a caller can branch on without string matching, and wraps the
// underlying cause for %w-style inspection.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, shadowbox.ErrLocked) work against a bare Kind
// sentinel by comparing Kind rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an *Error for the given op and Kind, optionally
// wrapping a lower-level cause.
func NewError(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Sentinel values for errors.Is comparisons against a bare Kind, e.g.
// errors.Is(err, shadowbox.ErrLocked).
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAuthFailure      = &Error{Kind: KindAuthFailure}
	ErrLocked           = &Error{Kind: KindLocked}
	ErrIntegrityFailure = &Error{Kind: KindIntegrityFailure}
	ErrIOError          = &Error{Kind: KindIOError}
	ErrProtocolError    = &Error{Kind: KindProtocolError}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded}
)
