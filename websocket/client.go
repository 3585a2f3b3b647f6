package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/config"
)

const sendBufferSize = 64

var (
	// ErrBufferFull is returned when a session's outbound queue is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrSessionClosed is returned when sending to a terminated session.
	ErrSessionClosed = errors.New("session closed")
)

// ClientSession is one authenticated websocket connection. UserID is bound
// once at construction and never changes.
type ClientSession struct {
	ID     string
	UserID string

	conn          *websocket.Conn
	cfg           *config.WebSocketConfig
	send          chan []byte
	lastActivity  atomic.Int64
	activityTimer *time.Timer
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
	closeOnce     sync.Once
}

// NewClientSession creates a new client session
func NewClientSession(id, userID string, conn *websocket.Conn, cfg *config.WebSocketConfig) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:     id,
		UserID: userID,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

// Done is closed once the session is terminated.
func (s *ClientSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Send queues an event for the write pump without blocking.
func (s *ClientSession) Send(event string, data any) error {
	payload, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
		return ErrBufferFull
	}
}

// Start arms the activity timer and launches the write pump, which also
// sends the keepalive pings.
func (s *ClientSession) Start() {
	s.mu.Lock()
	s.activityTimer = time.AfterFunc(
		time.Duration(s.cfg.ActivityTimeout)*time.Second,
		s.onActivityTimeout,
	)
	s.mu.Unlock()

	s.extendReadDeadline()
	s.conn.SetPongHandler(s.pongHandler)
	go s.writePump()
}

func (s *ClientSession) writePump() {
	ticker := time.NewTicker(time.Duration(s.cfg.PingInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case payload := <-s.send:
			if err := s.write(websocket.TextMessage, payload); err != nil {
				log.Warn().Err(err).Str("connection_id", s.ID).Msg("write failed")
				s.Close(websocket.CloseInternalServerErr, "write failure")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("connection_id", s.ID).Msg("ping failed")
				s.Close(websocket.CloseInternalServerErr, "ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(time.Duration(s.cfg.WriteTimeout) * time.Second))
	return s.conn.WriteMessage(messageType, data)
}

// UpdateActivity records client traffic and resets the inactivity timer.
func (s *ClientSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity.Store(time.Now().Unix())
	if s.activityTimer != nil {
		s.activityTimer.Reset(time.Duration(s.cfg.ActivityTimeout) * time.Second)
	}
	s.extendReadDeadline()
}

// LastActivityTime returns the time of last activity
func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(s.lastActivity.Load(), 0)
}

// extendReadDeadline pushes the read deadline out by the pong timeout. A peer
// that vanishes without a close frame fails the next read once it passes.
func (s *ClientSession) extendReadDeadline() {
	if s.conn != nil {
		s.conn.SetReadDeadline(time.Now().Add(time.Duration(s.cfg.PongTimeout) * time.Second))
	}
}

func (s *ClientSession) pongHandler(string) error {
	if s.cfg.KeepAlive {
		s.UpdateActivity()
		return nil
	}
	s.lastActivity.Store(time.Now().Unix())
	s.extendReadDeadline()
	return nil
}

func (s *ClientSession) onActivityTimeout() {
	log.Info().Str("connection_id", s.ID).Msg("connection timed out")
	s.Close(websocket.ClosePolicyViolation, "inactivity timeout")
}

// Close sends a close frame and closes the connection. Only the first call
// has any effect.
func (s *ClientSession) Close(code int, text string) {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.activityTimer != nil {
			s.activityTimer.Stop()
		}
		s.mu.Unlock()

		if s.conn == nil {
			return
		}
		writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
		err := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(writeTimeout),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Debug().Err(err).Str("connection_id", s.ID).Msg("error sending close message")
		}
		s.conn.Close()
	})
}
