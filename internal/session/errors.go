package session

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider error codes.
const (
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWeakPassword      = "auth/weak-password"
	CodeUserNotFound      = "auth/user-not-found"
	CodeWrongPassword     = "auth/wrong-password"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeUserDisabled      = "auth/user-disabled"
	CodeNetworkFailed     = "auth/network-request-failed"
	CodeConfigNotFound    = "auth/configuration-not-found"
	CodeUnauthenticated   = "auth/unauthenticated"
)

// ProviderError is a failure reported by the auth provider with its code.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Kind classifies an AuthError.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidEmail
	KindWeakPassword
	KindEmailInUse
	KindNotFound
	KindWrongCredential
	KindDisabled
	KindNetworkFailure
	KindConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidEmail:
		return "InvalidEmail"
	case KindWeakPassword:
		return "WeakPassword"
	case KindEmailInUse:
		return "EmailInUse"
	case KindNotFound:
		return "NotFound"
	case KindWrongCredential:
		return "WrongCredential"
	case KindDisabled:
		return "Disabled"
	case KindNetworkFailure:
		return "NetworkFailure"
	case KindConfigurationError:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// AuthError is what Store operations return: a kind plus a message fit to
// show the user.
type AuthError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

// IsKind reports whether err is an AuthError of kind k.
func IsKind(err error, k Kind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == k
}

var messages = map[Kind]string{
	KindInvalidEmail:       "Email address is not valid.",
	KindWeakPassword:       "Password is too weak. Please use a stronger password.",
	KindEmailInUse:         "Email is already in use. Please use a different email.",
	KindNotFound:           "No account found with this email address.",
	KindWrongCredential:    "Incorrect password.",
	KindDisabled:           "This account has been disabled.",
	KindNetworkFailure:     "Network error. Please check your internet connection.",
	KindConfigurationError: "Authentication is not properly configured.",
}

var kindByCode = map[string]Kind{
	CodeInvalidEmail:      KindInvalidEmail,
	CodeWeakPassword:      KindWeakPassword,
	CodeEmailInUse:        KindEmailInUse,
	CodeUserNotFound:      KindNotFound,
	CodeWrongPassword:     KindWrongCredential,
	CodeInvalidCredential: KindWrongCredential,
	CodeUserDisabled:      KindDisabled,
	CodeNetworkFailed:     KindNetworkFailure,
	CodeConfigNotFound:    KindConfigurationError,
}

// Classify maps a provider or transport error to an AuthError. fallback is the
// message used for unknown failures that carry no text of their own.
func Classify(err error, fallback string) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if kind, ok := kindByCode[pe.Code]; ok {
			return &AuthError{Kind: kind, Message: messages[kind], Err: err}
		}
		msg := pe.Message
		if msg == "" {
			msg = fallback
		}
		return &AuthError{Kind: KindUnknown, Message: msg, Err: err}
	}

	if isNetworkError(err) {
		return &AuthError{Kind: KindNetworkFailure, Message: messages[KindNetworkFailure], Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AuthError{Kind: KindUnknown, Message: fallback, Err: err}
	}
	msg := err.Error()
	if msg == "" {
		msg = fallback
	}
	return &AuthError{Kind: KindUnknown, Message: msg, Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
