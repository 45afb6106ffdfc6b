package identity

import "net/http"

// Error is an account failure carrying the auth provider code clients map to
// user-facing messages.
type Error struct {
	code   string
	status int
	msg    string
}

func (e *Error) Error() string { return e.msg }

// Code is the wire error code, e.g. "auth/email-already-in-use".
func (e *Error) Code() string { return e.code }

// Status is the HTTP status the error maps to.
func (e *Error) Status() int { return e.status }

var (
	ErrEmailInUse    = &Error{code: "auth/email-already-in-use", status: http.StatusConflict, msg: "email already in use"}
	ErrInvalidEmail  = &Error{code: "auth/invalid-email", status: http.StatusBadRequest, msg: "invalid email address"}
	ErrWeakPassword  = &Error{code: "auth/weak-password", status: http.StatusBadRequest, msg: "password must be at least 6 characters"}
	ErrUserNotFound  = &Error{code: "auth/user-not-found", status: http.StatusNotFound, msg: "user not found"}
	ErrWrongPassword = &Error{code: "auth/wrong-password", status: http.StatusUnauthorized, msg: "wrong password"}
	ErrUserDisabled  = &Error{code: "auth/user-disabled", status: http.StatusForbidden, msg: "user disabled"}
)
