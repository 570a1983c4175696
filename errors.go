package shadowbox

import "shadowbox/internal/sberr"

// Kind enumerates the distinguishable error categories the core surfaces.
// Every fallible operation in the core returns an error satisfying
// errors.As into *Error, whose Kind a frontend can switch on.
type Kind = sberr.Kind

const (
	KindUnknown          = sberr.KindUnknown
	KindNotFound         = sberr.KindNotFound
	KindAuthFailure      = sberr.KindAuthFailure
	KindLocked           = sberr.KindLocked
	KindIntegrityFailure = sberr.KindIntegrityFailure
	KindIOError          = sberr.KindIOError
	KindProtocolError    = sberr.KindProtocolError
	KindTimeout          = sberr.KindTimeout
	KindCancelled        = sberr.KindCancelled
	KindConflict         = sberr.KindConflict
	KindQuotaExceeded    = sberr.KindQuotaExceeded
)

// Error is the single error type every core operation returns. It carries
// a Kind a caller can branch on without string matching, and wraps the
// underlying cause for %w-style inspection.
type Error = sberr.Error

// NewError constructs an *Error for the given op and Kind, optionally
// wrapping a lower-level cause.
func NewError(op string, kind Kind, cause error) *Error {
	return sberr.NewError(op, kind, cause)
}

// Sentinel values for errors.Is comparisons against a bare Kind, e.g.
// errors.Is(err, shadowbox.ErrLocked).
var (
	ErrNotFound         = sberr.ErrNotFound
	ErrAuthFailure      = sberr.ErrAuthFailure
	ErrLocked           = sberr.ErrLocked
	ErrIntegrityFailure = sberr.ErrIntegrityFailure
	ErrIOError          = sberr.ErrIOError
	ErrProtocolError    = sberr.ErrProtocolError
	ErrTimeout          = sberr.ErrTimeout
	ErrCancelled        = sberr.ErrCancelled
	ErrConflict         = sberr.ErrConflict
	ErrQuotaExceeded    = sberr.ErrQuotaExceeded
)
