package changefeed

import (
	"context"
	"errors"
	"sync"
)

// ErrHubStopped is returned once the hub's run loop has exited.
var ErrHubStopped = errors.New("change feed stopped")

type subscriber struct {
	topic string
	ch    chan struct{}
}

// Hub is an in-process Feed. A single goroutine owns the topic rooms and
// receives registrations, removals and broadcasts over channels.
type Hub struct {
	rooms      map[string]map[*subscriber]struct{}
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan string
	done       chan struct{}
}

// NewHub builds a hub. Call Run before publishing or subscribing.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*subscriber]struct{}),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan string),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is cancelled. Remaining subscriptions are
// closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for topic, room := range h.rooms {
			for sub := range room {
				close(sub.ch)
			}
			delete(h.rooms, topic)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			room := h.rooms[sub.topic]
			if room == nil {
				room = make(map[*subscriber]struct{})
				h.rooms[sub.topic] = room
			}
			room[sub] = struct{}{}
		case sub := <-h.unregister:
			room := h.rooms[sub.topic]
			if _, ok := room[sub]; !ok {
				continue
			}
			delete(room, sub)
			close(sub.ch)
			if len(room) == 0 {
				delete(h.rooms, sub.topic)
			}
		case topic := <-h.broadcast:
			for sub := range h.rooms[topic] {
				notify(sub.ch)
			}
		}
	}
}

// Publish signals every subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic string) error {
	select {
	case h.broadcast <- topic:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers interest in topic.
func (h *Hub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &subscriber{topic: topic, ch: make(chan struct{}, 1)}
	select {
	case h.register <- sub:
		return &hubSubscription{hub: h, sub: sub}, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type hubSubscription struct {
	hub  *Hub
	sub  *subscriber
	once sync.Once
}

func (s *hubSubscription) C() <-chan struct{} { return s.sub.ch }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s.sub:
		case <-s.hub.done:
		}
	})
	return nil
}
