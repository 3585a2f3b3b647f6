package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// appendScript adds a message to the conversation's sorted set unless one is
// already scored at the same millisecond.
var appendScript = redis.NewScript(`
if #redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1], 'LIMIT', 0, 1) > 0 then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStore keeps each conversation in a sorted set scored by send time in
// unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(conversationID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, conversationID)
}

func (s *RedisStore) Append(ctx context.Context, m *Message) error {
	sentAt, err := m.SentAt()
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", m.Timestamp, err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	added, err := appendScript.Run(ctx, s.client, []string{s.key(m.ConversationID)}, sentAt.UnixMilli(), string(data)).Int()
	if err != nil {
		return fmt.Errorf("redis append %s: %w", m.ConversationID, err)
	}
	if added == 0 {
		return ErrConflict
	}
	return nil
}
