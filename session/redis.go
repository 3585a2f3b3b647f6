package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRegistry implements Registry using Redis.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a new RedisRegistry. Keys are "<prefix>:<connectionId>";
// a zero ttl stores records without expiry.
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(connectionID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, connectionID)
}

// Register stores the connection record, overwriting any previous one.
func (r *RedisRegistry) Register(ctx context.Context, rec *Record) error {
	rec.ExpiresAt = expiry(time.Now(), r.ttl)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal connection record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.ConnectionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis register %s: %w", rec.ConnectionID, err)
	}
	return nil
}

// Get retrieves a connection record. A missing record returns nil, nil.
func (r *RedisRegistry) Get(ctx context.Context, connectionID string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(connectionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection record: %w", err)
	}
	return &rec, nil
}

// Deregister removes a connection record.
func (r *RedisRegistry) Deregister(ctx context.Context, connectionID string) error {
	if err := r.client.Del(ctx, r.key(connectionID)).Err(); err != nil {
		return fmt.Errorf("redis deregister %s: %w", connectionID, err)
	}
	return nil
}

// Refresh updates the expiration time of a record. A missing key is a no-op.
func (r *RedisRegistry) Refresh(ctx context.Context, connectionID string) error {
	if r.ttl <= 0 {
		return nil
	}
	return r.client.Expire(ctx, r.key(connectionID), r.ttl).Err()
}
