package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/broker"
	"github.com/abdelmounim-dev/chat-relay/config"
	"github.com/abdelmounim-dev/chat-relay/message"
	"github.com/abdelmounim-dev/chat-relay/metrics"
)

const publishTimeout = 10 * time.Second

// Handler upgrades connections, authenticates them and routes direct
// messages between the sessions of this instance.
type Handler struct {
	manager   *ClientManager
	verifier  TokenVerifier
	store     message.Store
	publisher broker.Publisher
	cfg       *config.AppConfig
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// NewHandler creates a new websocket handler. A nil publisher discards
// relay events.
func NewHandler(manager *ClientManager, verifier TokenVerifier, store message.Store, publisher broker.Publisher, cfg *config.AppConfig) *Handler {
	if publisher == nil {
		publisher = broker.Noop{}
	}
	return &Handler{
		manager:   manager,
		verifier:  verifier,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Duration(cfg.WebSocket.HandshakeTimeout) * time.Second,
			Subprotocols:     []string{tokenSubprotocol},
			CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
		},
		now: time.Now,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket handles incoming websocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Counted from the start so shutdown also waits for handshakes still
	// authenticating.
	h.manager.IncreaseWaitGroup()
	defer h.manager.DecreaseWaitGroup()

	if limit := h.cfg.WebSocket.MaxConnections; limit > 0 && h.manager.Count() >= limit {
		log.Warn().Int("max", limit).Str("remote_addr", r.RemoteAddr).Msg("connection limit reached")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	token := TokenFromRequest(r, h.cfg.Auth.TokenQueryParam)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	metrics.TotalConnections.Inc()
	connectionID := uuid.NewString()

	// Authenticating: nothing is registered until the subject is known.
	if token == "" {
		metrics.AuthFailures.WithLabelValues("missing_token").Inc()
		log.Info().Str("connection_id", connectionID).Str("remote_addr", r.RemoteAddr).Msg("missing credential")
		h.reject(conn, websocket.ClosePolicyViolation, "missing credential")
		return
	}

	authCtx, cancel := context.WithTimeout(r.Context(), time.Duration(h.cfg.WebSocket.HandshakeTimeout)*time.Second)
	userID, err := h.verifier.Verify(authCtx, token)
	cancel()
	if err != nil {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		log.Info().Err(err).Str("connection_id", connectionID).Str("remote_addr", r.RemoteAddr).Msg("authentication failed")
		h.reject(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	metrics.AuthSuccess.Inc()

	cs := NewClientSession(connectionID, userID, conn, &h.cfg.WebSocket)
	if err := h.manager.AddClient(r.Context(), cs); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			cs.Close(websocket.CloseGoingAway, "server shutdown")
			return
		}
		cs.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	defer h.terminate(cs)

	if limit := h.cfg.WebSocket.MessageSizeLimit; limit > 0 {
		conn.SetReadLimit(int64(limit))
	}
	cs.Start()

	if err := cs.Send(EventConnected, Connected{ConnectionID: cs.ID, UserID: cs.UserID}); err != nil {
		log.Warn().Err(err).Str("connection_id", cs.ID).Msg("failed to send connected event")
		return
	}
	h.publish(broker.Event{Type: broker.EventConnectionOpened, ConnectionID: cs.ID, UserID: cs.UserID})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("connection_id", cs.ID).Msg("read error")
			}
			return
		}
		metrics.MessagesReceived.Inc()
		cs.UpdateActivity()

		h.handleFrame(r.Context(), cs, msg)
	}
}

// reject closes a connection that never became active.
func (h *Handler) reject(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(time.Duration(h.cfg.WebSocket.WriteTimeout) * time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	conn.Close()
}

func (h *Handler) terminate(cs *ClientSession) {
	cs.Close(websocket.CloseNormalClosure, "")
	h.manager.RemoveClient(cs)
	h.publish(broker.Event{Type: broker.EventConnectionClosed, ConnectionID: cs.ID, UserID: cs.UserID})
	log.Info().Str("connection_id", cs.ID).Str("user_id", cs.UserID).Msg("session terminated")
}

func (h *Handler) handleFrame(ctx context.Context, cs *ClientSession, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.replyError(cs, "", CodeInvalidRequest, "malformed frame")
		return
	}

	switch frame.Event {
	case EventSendMessage:
		var req sendMessageFields
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			h.replyError(cs, "", CodeInvalidRequest, "malformed send_message payload")
			return
		}
		if req.ToUserID == nil || req.Message == nil {
			h.replyError(cs, req.RequestID, CodeInvalidRequest, "toUserId and message are required")
			return
		}
		h.handleSend(ctx, cs, SendMessageRequest{ToUserID: *req.ToUserID, Message: *req.Message, RequestID: req.RequestID})
	default:
		h.replyError(cs, "", CodeUnknownEvent, "unknown event "+frame.Event)
	}
}

// handleSend persists a message and then pushes it to every live session of
// the recipient. Nothing is delivered unless the write succeeded. An empty
// body is a valid message; an empty recipient is not.
func (h *Handler) handleSend(ctx context.Context, cs *ClientSession, req SendMessageRequest) {
	if req.ToUserID == "" {
		h.replyError(cs, req.RequestID, CodeInvalidRequest, "toUserId is required")
		return
	}

	msg := message.New(cs.UserID, req.ToUserID, req.Message, h.now())
	if err := message.Persist(ctx, h.store, msg); err != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(err).
			Str("connection_id", cs.ID).
			Str("conversation_id", msg.ConversationID).
			Msg("failed to persist message")
		h.replyError(cs, req.RequestID, CodePersistFailed, "message could not be stored")
		return
	}
	metrics.MessagesPersisted.Inc()

	delivered := h.deliver(msg)
	if err := cs.Send(EventMessageSent, MessageSent{RequestID: req.RequestID, Message: msg, Recipients: delivered}); err != nil {
		log.Warn().Err(err).Str("connection_id", cs.ID).Msg("failed to acknowledge message")
	}
	h.publish(broker.Event{Type: broker.EventMessagePersisted, ConnectionID: cs.ID, UserID: cs.UserID, Message: msg})
}

// deliver queues msg on each session of the recipient and returns how many
// accepted it. A slow or dead target only loses its own copy.
func (h *Handler) deliver(msg *message.Message) int {
	delivered := 0
	for _, target := range h.manager.SessionsFor(msg.RecipientID) {
		if err := target.Send(EventReceiveMessage, msg); err != nil {
			metrics.Deliveries.WithLabelValues("dropped").Inc()
			log.Warn().Err(err).
				Str("connection_id", target.ID).
				Str("user_id", target.UserID).
				Msg("failed to deliver message")
			continue
		}
		metrics.Deliveries.WithLabelValues("queued").Inc()
		delivered++
	}
	return delivered
}

func (h *Handler) replyError(cs *ClientSession, requestID, code, text string) {
	err := cs.Send(EventMessageError, MessageError{RequestID: requestID, Code: code, Error: text})
	if err != nil {
		log.Warn().Err(err).Str("connection_id", cs.ID).Msg("failed to send error event")
	}
}

// publish hands an event to the broker in the background. Failures never
// reach the session.
func (h *Handler) publish(ev broker.Event) {
	ev.ServerID = h.manager.ServerID()
	ev.At = h.now().UTC()

	h.manager.IncreaseWaitGroup()
	go func() {
		defer h.manager.DecreaseWaitGroup()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.publisher.Publish(ctx, ev); err != nil {
			metrics.EventPublishFailures.WithLabelValues(h.publisher.Type()).Inc()
			log.Error().Err(err).Str("event", ev.Type).Str("connection_id", ev.ConnectionID).Msg("failed to publish event")
			return
		}
		metrics.EventsPublished.WithLabelValues(h.publisher.Type()).Inc()
	}()
}
