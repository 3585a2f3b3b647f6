// Package message holds the direct-message record and its durable store.
package message

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// conversationSeparator joins the sorted participant ids.
const conversationSeparator = "_"

// maxAppendAttempts bounds how many later milliseconds Persist will try.
const maxAppendAttempts = 5

// ErrConflict is returned by Store.Append when a message already occupies
// the same conversation and timestamp.
var ErrConflict = errors.New("message: conversation/timestamp already taken")

// Message is a point-to-point message. It is never mutated once stored.
type Message struct {
	ConversationID string `json:"conversationId" dynamodbav:"conversationId"`
	Timestamp      string `json:"timestamp" dynamodbav:"timestamp"`
	SenderID       string `json:"senderId" dynamodbav:"senderId"`
	RecipientID    string `json:"recipientId" dynamodbav:"recipientId"`
	Message        string `json:"message" dynamodbav:"message"`
	Read           bool   `json:"read" dynamodbav:"read"`
}

// Store is an append-only message log partitioned by conversation.
type Store interface {
	// Append stores m atomically. It returns ErrConflict if the
	// (ConversationID, Timestamp) key is already present.
	Append(ctx context.Context, m *Message) error
}

// ConversationID returns the same id for (a, b) and (b, a).
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, conversationSeparator)
}

// New builds an unread message from sender to recipient sent at now.
func New(senderID, recipientID, body string, now time.Time) *Message {
	return &Message{
		ConversationID: ConversationID(senderID, recipientID),
		Timestamp:      FormatTimestamp(now),
		SenderID:       senderID,
		RecipientID:    recipientID,
		Message:        body,
		Read:           false,
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SentAt parses the message timestamp.
func (m *Message) SentAt() (time.Time, error) {
	return time.Parse(TimestampLayout, m.Timestamp)
}

// Persist appends m, moving its timestamp forward one millisecond on each
// conflict so that two sends in the same millisecond never overwrite each other.
func Persist(ctx context.Context, store Store, m *Message) error {
	sentAt, err := m.SentAt()
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", m.Timestamp, err)
	}
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = store.Append(ctx, m)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		sentAt = sentAt.Add(time.Millisecond)
		m.Timestamp = FormatTimestamp(sentAt)
	}
	return err
}
