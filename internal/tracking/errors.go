package tracking

import "fmt"

type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindQuotaExhausted  Kind = "quota_exhausted"
	KindAlreadyTracking Kind = "already_tracking"
	// KindConflict is a lost race on the relationship uniqueness constraint.
	KindConflict Kind = "conflict"
)

// Error is a business-rule failure. None of these are retried.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind. A Conflict also matches ErrAlreadyTracking so callers
// see one outcome for both the pre-check and the storage-level duplicate.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindConflict && t.Kind == KindAlreadyTracking
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Sentinels for errors.Is.
var (
	ErrUnauthenticated = newError(KindUnauthenticated, "unauthenticated")
	ErrForbidden       = newError(KindForbidden, "forbidden")
	ErrNotFound        = newError(KindNotFound, "not found")
	ErrInvalidArgument = newError(KindInvalidArgument, "invalid argument")
	ErrQuotaExhausted  = newError(KindQuotaExhausted, "Daily tracking limit reached")
	ErrAlreadyTracking = newError(KindAlreadyTracking, "Already tracking this milestone")
	ErrConflict        = newError(KindConflict, "Already tracking this milestone")
)
