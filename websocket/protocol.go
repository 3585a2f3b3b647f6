package websocket

import (
	"encoding/json"

	"github.com/abdelmounim-dev/chat-relay/message"
)

// Event names carried in Frame.Event.
const (
	EventConnected      = "connected"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
)

// Error codes carried in MessageError.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodePersistFailed  = "persist_failed"
	CodeUnknownEvent   = "unknown_event"
)

// Frame is the envelope of every websocket text message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inboundFrame defers decoding of Data until the event is known.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type SendMessageRequest struct {
	ToUserID  string `json:"toUserId"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// sendMessageFields tells an absent field apart from an empty string.
type sendMessageFields struct {
	ToUserID  *string `json:"toUserId"`
	Message   *string `json:"message"`
	RequestID string  `json:"requestId"`
}

// MessageSent acknowledges a persisted message to its sender. Recipients is
// the number of live recipient sessions it was queued for.
type MessageSent struct {
	RequestID  string           `json:"requestId,omitempty"`
	Message    *message.Message `json:"message"`
	Recipients int              `json:"recipients"`
}

type MessageError struct {
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}
