package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/metrics"
	"github.com/abdelmounim-dev/chat-relay/session"
)

const deregisterTimeout = 5 * time.Second

// ErrShuttingDown is returned by AddClient once CloseAllConnections has run.
var ErrShuttingDown = errors.New("relay shutting down")

// ClientManager owns the set of active sessions of this relay instance,
// indexed by subject so fan-out can find every device of a user. It keeps the
// durable connection registry in step with that set.
type ClientManager struct {
	mu       sync.RWMutex
	clients  map[string]*ClientSession            // by connection id
	byUser   map[string]map[string]*ClientSession // user id -> connection id -> session
	wg       sync.WaitGroup
	registry session.Registry
	serverID string
	closing  bool
}

// NewClientManager creates a new client manager.
func NewClientManager(registry session.Registry, serverID string) *ClientManager {
	return &ClientManager{
		clients:  make(map[string]*ClientSession),
		byUser:   make(map[string]map[string]*ClientSession),
		registry: registry,
		serverID: serverID,
	}
}

func (m *ClientManager) ServerID() string { return m.serverID }

// AddClient records the connection in the registry and, only if that
// succeeds, makes the session visible to fan-out. After CloseAllConnections
// it refuses with ErrShuttingDown and leaves no record behind.
func (m *ClientManager) AddClient(ctx context.Context, cs *ClientSession) error {
	if m.isClosing() {
		return ErrShuttingDown
	}
	rec := &session.Record{
		ConnectionID: cs.ID,
		UserID:       cs.UserID,
		ServerID:     m.serverID,
		ConnectedAt:  time.Now().UTC(),
	}
	if err := m.registry.Register(ctx, rec); err != nil {
		metrics.RegistryErrors.WithLabelValues("register").Inc()
		log.Error().Err(err).Str("connection_id", cs.ID).Str("user_id", cs.UserID).Msg("failed to register connection")
		return err
	}

	m.mu.Lock()
	if m.closing {
		// Shutdown began while the record was being written.
		m.mu.Unlock()
		m.deregister(cs)
		return ErrShuttingDown
	}
	m.clients[cs.ID] = cs
	devices := m.byUser[cs.UserID]
	if devices == nil {
		devices = make(map[string]*ClientSession)
		m.byUser[cs.UserID] = devices
	}
	devices[cs.ID] = cs
	m.mu.Unlock()

	metrics.ActiveConnections.Inc()
	log.Info().Str("connection_id", cs.ID).Str("user_id", cs.UserID).Str("server_id", m.serverID).Msg("connection registered")
	return nil
}

// RemoveClient drops the session from the index and deletes its registry
// record. Deregistration errors are logged, never returned: the session is
// gone either way. Calling it for an unknown session is a no-op.
func (m *ClientManager) RemoveClient(cs *ClientSession) {
	m.mu.Lock()
	_, ok := m.clients[cs.ID]
	if ok {
		delete(m.clients, cs.ID)
		if devices := m.byUser[cs.UserID]; devices != nil {
			delete(devices, cs.ID)
			if len(devices) == 0 {
				delete(m.byUser, cs.UserID)
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveConnections.Dec()
	if m.deregister(cs) {
		log.Info().Str("connection_id", cs.ID).Str("user_id", cs.UserID).Msg("connection deregistered")
	}
}

func (m *ClientManager) isClosing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

// deregister deletes the registry record and reports whether that worked.
func (m *ClientManager) deregister(cs *ClientSession) bool {
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	if err := m.registry.Deregister(ctx, cs.ID); err != nil {
		metrics.RegistryErrors.WithLabelValues("deregister").Inc()
		log.Error().Err(err).Str("connection_id", cs.ID).Msg("failed to delete connection record")
		return false
	}
	return true
}

// GetClient retrieves a live session by connection id.
func (m *ClientManager) GetClient(connectionID string) (*ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.clients[connectionID]
	return cs, ok
}

// SessionsFor returns a snapshot of every active session bound to userID.
func (m *ClientManager) SessionsFor(userID string) []*ClientSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := m.byUser[userID]
	out := make([]*ClientSession, 0, len(devices))
	for _, cs := range devices {
		out = append(out, cs)
	}
	return out
}

func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ClientManager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

// RefreshSessionTTL extends the registry record of an active connection.
func (m *ClientManager) RefreshSessionTTL(ctx context.Context, connectionID string) {
	if err := m.registry.Refresh(ctx, connectionID); err != nil {
		// Transient store trouble is not a reason to drop the client.
		metrics.RegistryErrors.WithLabelValues("refresh").Inc()
		log.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to refresh connection record")
	}
}

// KeepRegistered refreshes the registry record of every active session each
// interval until ctx is done. Keepalive pings hold idle sessions open
// indefinitely, so their records must not depend on inbound frames.
func (m *ClientManager) KeepRegistered(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshAll(ctx)
		}
	}
}

func (m *ClientManager) refreshAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.RefreshSessionTTL(ctx, id)
	}
}

// IncreaseWaitGroup increases the wait group counter
func (m *ClientManager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

// DecreaseWaitGroup decreases the wait group counter
func (m *ClientManager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion waits for sessions and background publishes to finish,
// or for ctx to expire.
func (m *ClientManager) WaitForCompletion(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAllConnections refuses further sessions and sends close frames to
// every client. Each session's handler then runs its own termination,
// including deregistration.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*ClientSession, 0, len(m.clients))
	for _, cs := range m.clients {
		sessions = append(sessions, cs)
	}
	m.mu.Unlock()

	for _, cs := range sessions {
		log.Info().Str("connection_id", cs.ID).Str("reason", reason).Msg("closing connection")
		cs.Close(websocket.CloseGoingAway, reason)
	}
}
