// Package apierr renders every handler error as {"error": {"code", "message"}}.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Coded is implemented by domain errors that carry their own wire code.
type Coded interface {
	error
	Code() string
	Status() int
}

// Error is an ad-hoc coded error for request-level failures.
type Error struct {
	status  int
	code    string
	message string
}

// New builds a coded error.
func New(status int, code, message string) *Error {
	return &Error{status: status, code: code, message: message}
}

func (e *Error) Error() string { return e.message }
func (e *Error) Code() string  { return e.code }
func (e *Error) Status() int   { return e.status }

// BadRequest is the common malformed-body error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "request/invalid", message)
}

// Body is the JSON envelope for errors.
type Body struct {
	Error Detail `json:"error"`
}

// Detail carries the code and message.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify resolves an error to its status, code and message. Errors that are
// neither coded nor fiber errors become a 500 with a generic message.
func Classify(err error) (int, Detail) {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Status(), Detail{Code: coded.Code(), Message: err.Error()}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, Detail{Code: codeForStatus(fe.Code), Message: fe.Message}
	}
	return http.StatusInternalServerError, Detail{Code: "internal", Message: "internal server error"}
}

// Handler is the application's fiber.ErrorHandler.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, detail := Classify(err)
		if status >= http.StatusInternalServerError && logger != nil {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Int("status", status),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(Body{Error: detail})
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "request/invalid"
	case http.StatusUnauthorized:
		return "auth/unauthenticated"
	case http.StatusForbidden:
		return "auth/forbidden"
	case http.StatusNotFound:
		return "request/not-found"
	case http.StatusMethodNotAllowed:
		return "request/method-not-allowed"
	case http.StatusConflict:
		return "request/conflict"
	case http.StatusTooManyRequests:
		return "auth/too-many-requests"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal"
		}
		return "request/error"
	}
}
