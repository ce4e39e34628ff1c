package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes a message on cart-events:{userID} after every write.
// The payload is irrelevant: subscribers re-read the whole mapping.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, userID string) error {
	if err := n.client.Publish(ctx, channelName(userID), "changed").Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so a Publish
// issued after it returns is never missed.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) (Changes, error) {
	pubsub := n.client.Subscribe(ctx, channelName(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	s := &redisChanges{
		pubsub: pubsub,
		out:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run(pubsub.Channel())
	return s, nil
}

type redisChanges struct {
	pubsub *redis.PubSub
	out    chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

// run coalesces bursts: a pending signal already means "re-read".
func (s *redisChanges) run(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- struct{}{}:
			default:
			}
		}
	}
}

func (s *redisChanges) C() <-chan struct{} { return s.out }

func (s *redisChanges) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}

func channelName(userID string) string {
	return fmt.Sprintf("cart-events:%s", userID)
}
