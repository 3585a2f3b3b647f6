package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisPublisher implements Publisher using Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	topic  string
}

func NewRedisPublisher(client *redis.Client, topic string) *RedisPublisher {
	return &RedisPublisher{client: client, topic: topic}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.topic, data).Err()
}

// Subscribe streams events from the topic until ctx is cancelled.
// Undecodable payloads are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := p.client.Subscribe(ctx, p.topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.topic, err)
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("topic", p.topic).Msg("event decode error")
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (p *RedisPublisher) Type() string { return "redis" }

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }
