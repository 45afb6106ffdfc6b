// Package livesync keeps a local copy of the signed-in user's lists current by
// holding a standing query open against the store.
package livesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/trailpack/trailpack/internal/lists"
)

// State is the subscription lifecycle.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Streaming
	Failed
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stream is an open standing query. Snapshots is closed when the stream ends
// and Err then reports why.
type Stream interface {
	Snapshots() <-chan []lists.EquipmentList
	Err() error
	Close() error
}

// Source opens standing queries for an owner's lists.
type Source interface {
	Watch(ctx context.Context, owner string) (Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, owner string) (Stream, error)

func (f SourceFunc) Watch(ctx context.Context, owner string) (Stream, error) {
	return f(ctx, owner)
}

// ServiceSource serves standing queries from an in-process list service.
func ServiceSource(svc *lists.Service) Source {
	return SourceFunc(func(ctx context.Context, owner string) (Stream, error) {
		w, err := svc.Watch(ctx, owner)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// ErrStreamClosed is reported when the store ends a stream without an error.
var ErrStreamClosed = errors.New("snapshot stream closed by store")

// SubscriptionError reports a failed or lost standing query. It is always
// retryable with Resubscribe; nothing retries automatically.
type SubscriptionError struct {
	Owner string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("list subscription for %s failed: %v", e.Owner, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Retryable is always true.
func (e *SubscriptionError) Retryable() bool { return true }

// Update is delivered to listeners on every state change and every snapshot.
type Update struct {
	State State
	Lists []lists.EquipmentList
	Err   error
}
