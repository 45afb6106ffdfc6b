package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/session"
)

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// authErr maps a failure of an auth endpoint onto the provider boundary.
func authErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &session.ProviderError{Code: apiErr.Code, Message: apiErr.Message}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &session.ProviderError{Code: session.CodeNetworkFailed, Message: err.Error()}
}

// listErr maps a failure of a list endpoint onto the list sentinels.
func listErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", lists.ErrUnavailable, err)
	}
	if sentinel, ok := lists.ErrorForCode(apiErr.Code); ok {
		return fmt.Errorf("%w: %s", sentinel, apiErr.Message)
	}
	switch {
	case strings.HasPrefix(apiErr.Code, "auth/"):
		return fmt.Errorf("%w: %w", lists.ErrPermissionDenied, &session.ProviderError{Code: apiErr.Code, Message: apiErr.Message})
	case apiErr.Status == 400:
		return fmt.Errorf("%w: %s", lists.ErrValidation, apiErr.Message)
	case apiErr.Status >= 500:
		return fmt.Errorf("%w: %w", lists.ErrUnavailable, apiErr)
	default:
		return apiErr
	}
}
