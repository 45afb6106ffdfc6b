package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "trailpack:lists:"

// RedisFeed fans notifications out across server instances with Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisFeed builds a Redis-backed feed over an existing client.
func NewRedisFeed(client *redis.Client, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

// Publish sends a notification on the topic channel.
func (f *RedisFeed) Publish(ctx context.Context, topic string) error {
	if err := f.client.Publish(ctx, channelPrefix+topic, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a pub/sub connection and waits for the server to confirm the
// subscription, so a publish issued after Subscribe returns is never missed.
func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := f.client.Subscribe(ctx, channelPrefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		ch:     make(chan struct{}, 1),
		stop:   make(chan struct{}),
		logger: f.logger,
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	ch     chan struct{}
	stop   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *redisSubscription) pump(msgs <-chan *redis.Message) {
	defer close(s.ch)
	for {
		select {
		case <-s.stop:
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			notify(s.ch)
		}
	}
}

func (s *redisSubscription) C() <-chan struct{} { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.ps.Close()
		if err != nil && s.logger != nil {
			s.logger.Warn("close redis subscription", slog.Any("error", err))
		}
	})
	return err
}
