// Package broker publishes relay events (connections opening and closing,
// messages persisted) for consumers outside the relay.
package broker

import (
	"context"
	"time"

	"github.com/abdelmounim-dev/chat-relay/message"
)

const (
	EventConnectionOpened = "connection.opened"
	EventConnectionClosed = "connection.closed"
	EventMessagePersisted = "message.persisted"
)

// Event is the JSON payload written to the event topic.
type Event struct {
	Type         string           `json:"type"`
	ServerID     string           `json:"serverId"`
	ConnectionID string           `json:"connectionId,omitempty"`
	UserID       string           `json:"userId,omitempty"`
	Message      *message.Message `json:"message,omitempty"`
	At           time.Time        `json:"at"`
}

// Key is the partition key: the conversation for message events, the user
// otherwise.
func (e Event) Key() string {
	if e.Message != nil {
		return e.Message.ConversationID
	}
	return e.UserID
}

// Publisher delivers events to a topic. Implementations are safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Type() string
	Close() error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Type() string                         { return "none" }
func (Noop) Close() error                         { return nil }
