package mutation

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/trailpack/trailpack/internal/lists"
)

// Kind classifies a MutationError.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidationFailed
	KindNotFound
	KindPermissionDenied
	KindNetworkFailure
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidationFailed:
		return "ValidationFailed"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNetworkFailure:
		return "NetworkFailure"
	case KindConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// MutationError reports a rejected or failed write. Whatever the store already
// applied stays applied.
type MutationError struct {
	Kind    Kind
	Op      string
	ListID  string
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	if e.ListID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.ListID, e.Message)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsKind reports whether err is a MutationError of kind k.
func IsKind(err error, k Kind) bool {
	var me *MutationError
	return errors.As(err, &me) && me.Kind == k
}

func classify(op, listID string, err error) *MutationError {
	me := &MutationError{Op: op, ListID: listID, Err: err}
	switch {
	case errors.Is(err, lists.ErrValidation):
		me.Kind = KindValidationFailed
		me.Message = err.Error()
	case errors.Is(err, lists.ErrNotFound):
		me.Kind = KindNotFound
		me.Message = "the list or item no longer exists"
	case errors.Is(err, lists.ErrPermissionDenied):
		me.Kind = KindPermissionDenied
		me.Message = "you do not have permission to change this list"
	case errors.Is(err, lists.ErrVersionConflict):
		me.Kind = KindConflict
		me.Message = "the list changed since it was loaded; reload and try again"
	case isNetwork(err):
		me.Kind = KindNetworkFailure
		me.Message = "network error, please check your connection"
	default:
		me.Kind = KindUnknown
		me.Message = err.Error()
	}
	return me
}

func isNetwork(err error) bool {
	if errors.Is(err, lists.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
