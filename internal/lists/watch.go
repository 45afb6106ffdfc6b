package lists

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/trailpack/trailpack/internal/changefeed"
)

// Watch is a standing query for one owner's lists. It delivers the current
// set first and then one full snapshot per change notification.
type Watch struct {
	snapshots chan []EquipmentList
	cancel    context.CancelFunc
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Watch opens a standing query for owner. The change subscription is opened
// before the initial read so no write between the two is missed.
func (s *Service) Watch(ctx context.Context, owner string) (*Watch, error) {
	// The watch outlives the call; keep a private copy of owner.
	owner = strings.Clone(owner)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sub changefeed.Subscription
	if s.feed != nil {
		var err error
		sub, err = s.feed.Subscribe(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	initial, err := s.ListByOwner(ctx, owner)
	if err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		snapshots: make(chan []EquipmentList),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.metrics.WatchOpened()
	go s.runWatch(ctx, w, sub, owner, initial)
	return w, nil
}

func (s *Service) runWatch(ctx context.Context, w *Watch, sub changefeed.Subscription, owner string, initial []EquipmentList) {
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
		close(w.snapshots)
		close(w.done)
		s.metrics.WatchClosed()
	}()

	if !w.send(ctx, initial) {
		return
	}
	s.metrics.SnapshotSent()
	if sub == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				w.fail(fmt.Errorf("%w: change feed closed", ErrUnavailable))
				return
			}
			snapshot, err := s.ListByOwner(ctx, owner)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("watch snapshot read failed", slog.String("owner", owner), slog.Any("error", err))
				w.fail(err)
				return
			}
			if !w.send(ctx, snapshot) {
				return
			}
			s.metrics.SnapshotSent()
		}
	}
}

func (w *Watch) send(ctx context.Context, snapshot []EquipmentList) bool {
	select {
	case w.snapshots <- snapshot:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watch) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Snapshots yields full result sets. The channel is closed when the watch
// ends; Err then reports why, or nil after Close or cancellation.
func (w *Watch) Snapshots() <-chan []EquipmentList { return w.snapshots }

// Err returns the error that ended the watch, if any.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watch and waits for its goroutine to exit.
func (w *Watch) Close() error {
	w.cancel()
	<-w.done
	return nil
}
