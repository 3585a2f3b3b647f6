package session

import (
	"context"
	"time"
)

// Record is the durable mirror of one authenticated connection. It exists
// for systems outside the relay that need to know who is online.
type Record struct {
	ConnectionID string    `json:"connectionId" dynamodbav:"connectionId"`
	UserID       string    `json:"userId" dynamodbav:"userId"`
	ServerID     string    `json:"serverId,omitempty" dynamodbav:"serverId,omitempty"` // relay instance holding the socket
	ConnectedAt  time.Time `json:"connectedAt" dynamodbav:"connectedAt"`
	ExpiresAt    int64     `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"` // unix seconds, 0 means no expiry
}

// Registry records which connections are currently live.
type Registry interface {
	// Register upserts the record for rec.ConnectionID.
	Register(ctx context.Context, rec *Record) error
	// Deregister removes the record. Removing a missing record is not an error.
	Deregister(ctx context.Context, connectionID string) error
	// Refresh extends the record's lifetime in the store when a TTL is configured.
	Refresh(ctx context.Context, connectionID string) error
}

func expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).Unix()
}
