// Package changefeed carries "something changed" notifications for a topic.
// Payloads are deliberately absent: subscribers re-read the store.
package changefeed

import "context"

// Feed publishes and subscribes to per-topic change notifications.
type Feed interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers one signal per burst of notifications. The channel
// holds at most one pending signal, so a slow reader sees coalesced changes
// rather than a backlog. C is closed once the subscription ends.
type Subscription interface {
	C() <-chan struct{}
	Close() error
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
