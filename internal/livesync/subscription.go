package livesync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/session"
)

type event interface{}

type identityChanged struct{ owner string }

type resubscribe struct{}

type streamOpened struct {
	gen    uint64
	stream Stream
	err    error
}

type snapshotArrived struct {
	gen   uint64
	lists []lists.EquipmentList
}

type streamEnded struct {
	gen uint64
	err error
}

// Subscription owns local list state. One goroutine applies every event in
// arrival order; it is the only writer of that state.
type Subscription struct {
	source Source
	logger *slog.Logger

	inbox  chan event
	opened chan streamOpened
	quit   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu        sync.RWMutex
	view      Update
	listeners map[int]func(Update)
	nextID    int
}

// loop-owned state
type current struct {
	owner  string
	gen    uint64
	state  State
	lists  []lists.EquipmentList
	err    error
	cancel context.CancelFunc
	stream Stream
	stop   chan struct{}
}

// New starts an unsubscribed subscription over source.
func New(source Source, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscription{
		source:    source,
		logger:    logger,
		inbox:     make(chan event, 16),
		opened:    make(chan streamOpened),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]func(Update)),
	}
	go s.run()
	return s
}

// SetIdentity opens a query for id, or closes the open one when id is nil.
func (s *Subscription) SetIdentity(id *session.Identity) {
	owner := ""
	if id != nil {
		owner = id.ID
	}
	s.post(identityChanged{owner: owner})
}

// Follow tracks a session store: every resolved identity change is applied.
// The returned func stops following.
func (s *Subscription) Follow(store *session.Store) func() {
	unsubscribe := store.Subscribe(func(st session.State) {
		if !st.Loading {
			s.SetIdentity(st.Identity)
		}
	})
	if st := store.Current(); !st.Loading {
		s.SetIdentity(st.Identity)
	}
	return unsubscribe
}

// Resubscribe reopens the query after a failure. It does nothing in any
// other state.
func (s *Subscription) Resubscribe() {
	s.post(resubscribe{})
}

// Current returns the latest published view.
func (s *Subscription) Current() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Update{State: s.view.State, Lists: lists.CloneAll(s.view.Lists), Err: s.view.Err}
}

// Lists returns a copy of the latest snapshot.
func (s *Subscription) Lists() []lists.EquipmentList { return s.Current().Lists }

// State returns the lifecycle state.
func (s *Subscription) State() State { return s.Current().State }

// Err returns the last SubscriptionError, if the subscription is failed.
func (s *Subscription) Err() error { return s.Current().Err }

// Subscribe registers fn for every update and returns its remover. fn runs on
// the subscription goroutine and must not block.
func (s *Subscription) Subscribe(fn func(Update)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close stops the subscription and any open stream, and waits for every
// goroutine it started.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		s.wg.Wait()
	})
	return nil
}

func (s *Subscription) post(ev event) {
	select {
	case s.inbox <- ev:
	case <-s.quit:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	cur := &current{}
	for {
		select {
		case <-s.quit:
			s.closeStream(cur)
			return
		case ev := <-s.inbox:
			s.apply(cur, ev)
		case ev := <-s.opened:
			s.apply(cur, ev)
		}
	}
}

func (s *Subscription) apply(cur *current, ev event) {
	switch ev := ev.(type) {
	case identityChanged:
		if ev.owner == cur.owner && cur.state != Failed {
			return
		}
		s.closeStream(cur)
		cur.owner = ev.owner
		cur.lists = nil
		cur.err = nil
		if ev.owner == "" {
			cur.state = Unsubscribed
			s.publish(cur)
			return
		}
		s.open(cur)

	case resubscribe:
		if cur.state != Failed || cur.owner == "" {
			return
		}
		s.closeStream(cur)
		cur.err = nil
		s.open(cur)

	case streamOpened:
		if ev.gen != cur.gen {
			if ev.stream != nil {
				s.closeAsync(ev.stream)
			}
			return
		}
		if ev.err != nil {
			s.fail(cur, ev.err)
			return
		}
		cur.stream = ev.stream
		cur.stop = make(chan struct{})
		s.wg.Add(1)
		go s.pump(ev.gen, ev.stream, cur.stop)

	case snapshotArrived:
		if ev.gen != cur.gen {
			return
		}
		cur.state = Streaming
		cur.lists = ev.lists
		s.publish(cur)

	case streamEnded:
		if ev.gen != cur.gen {
			return
		}
		err := ev.err
		if err == nil {
			err = ErrStreamClosed
		}
		s.closeStream(cur)
		s.fail(cur, err)
	}
}

func (s *Subscription) open(cur *current) {
	cur.gen++
	cur.state = Subscribing
	ctx, cancel := context.WithCancel(context.Background())
	cur.cancel = cancel
	s.publish(cur)

	gen, owner := cur.gen, cur.owner
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		stream, err := s.source.Watch(ctx, owner)
		// opened is unbuffered: a stream is either handed to the loop or
		// closed here, never dropped.
		select {
		case s.opened <- streamOpened{gen: gen, stream: stream, err: err}:
		case <-s.quit:
			if stream != nil {
				_ = stream.Close()
			}
		}
	}()
}

func (s *Subscription) pump(gen uint64, stream Stream, stop chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case snap, ok := <-stream.Snapshots():
			var ev event = snapshotArrived{gen: gen, lists: snap}
			if !ok {
				ev = streamEnded{gen: gen, err: stream.Err()}
			}
			select {
			case s.inbox <- ev:
			case <-stop:
				return
			case <-s.quit:
				return
			}
			if !ok {
				return
			}
		case <-stop:
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Subscription) fail(cur *current, err error) {
	s.logger.Warn("list subscription failed", slog.String("owner", cur.owner), slog.Any("error", err))
	cur.state = Failed
	cur.err = &SubscriptionError{Owner: cur.owner, Err: err}
	s.publish(cur)
}

// closeStream releases the open stream, if any, and invalidates in-flight
// events for it. Close runs off the loop so a slow transport cannot stall it.
func (s *Subscription) closeStream(cur *current) {
	if cur.cancel != nil {
		cur.cancel()
		cur.cancel = nil
	}
	if cur.stop != nil {
		close(cur.stop)
		cur.stop = nil
	}
	if cur.stream != nil {
		s.closeAsync(cur.stream)
		cur.stream = nil
	}
	cur.gen++
}

func (s *Subscription) closeAsync(stream Stream) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := stream.Close(); err != nil {
			s.logger.Debug("close snapshot stream", slog.Any("error", err))
		}
	}()
}

func (s *Subscription) publish(cur *current) {
	update := Update{State: cur.state, Lists: lists.CloneAll(cur.lists), Err: cur.err}

	s.mu.Lock()
	s.view = update
	listeners := make([]func(Update), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Update{State: update.State, Lists: lists.CloneAll(update.Lists), Err: update.Err})
	}
}
