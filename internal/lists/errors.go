package lists

import "net/http"

// Error is a list-domain failure with a stable wire code. The package-level
// values below are sentinels: match them with errors.Is.
type Error struct {
	code   string
	status int
	msg    string
}

func (e *Error) Error() string { return e.msg }

// Code is the wire error code, e.g. "lists/not-found".
func (e *Error) Code() string { return e.code }

// Status is the HTTP status the error maps to.
func (e *Error) Status() int { return e.status }

var (
	// ErrValidation marks input rejected before any store access.
	ErrValidation = &Error{code: "lists/validation-failed", status: http.StatusBadRequest, msg: "validation failed"}

	// ErrNotFound is returned when a list, or an item index within it, does not exist.
	ErrNotFound = &Error{code: "lists/not-found", status: http.StatusNotFound, msg: "equipment list not found"}

	// ErrPermissionDenied is returned when the caller does not own the list.
	ErrPermissionDenied = &Error{code: "lists/permission-denied", status: http.StatusForbidden, msg: "permission denied"}

	// ErrVersionConflict is returned by compare-and-swap writes whose expected
	// version no longer matches the stored document.
	ErrVersionConflict = &Error{code: "lists/version-conflict", status: http.StatusConflict, msg: "version conflict"}

	// ErrUnavailable wraps transport and connectivity failures reaching the store.
	ErrUnavailable = &Error{code: "lists/unavailable", status: http.StatusServiceUnavailable, msg: "store unavailable"}
)

var byCode = map[string]*Error{
	ErrValidation.code:       ErrValidation,
	ErrNotFound.code:         ErrNotFound,
	ErrPermissionDenied.code: ErrPermissionDenied,
	ErrVersionConflict.code:  ErrVersionConflict,
	ErrUnavailable.code:      ErrUnavailable,
}

// ErrorForCode returns the sentinel registered for a wire code.
func ErrorForCode(code string) (*Error, bool) {
	err, ok := byCode[code]
	return err, ok
}
