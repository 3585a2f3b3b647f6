package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/chat-relay/broker"
	"github.com/abdelmounim-dev/chat-relay/config"
	"github.com/abdelmounim-dev/chat-relay/session"
	"github.com/abdelmounim-dev/chat-relay/websocket"
)

func newTestServer(t *testing.T) (*Server, *[]string) {
	t.Helper()
	var hits []string
	ws := func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}
	manager := websocket.NewClientManager(session.NewMemoryRegistry(), "srv-1")
	return NewServer(&config.ServerConfig{Port: 0, Path: "/ws"}, ws, manager), &hits
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, healthResponse{Status: "ok", ServerID: "srv-1"}, body)
}

func TestServer_WebSocketRoutes(t *testing.T) {
	s, hits := newTestServer(t)

	for _, path := range []string{"/", "/ws"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code, path)
	}
	assert.Equal(t, []string{"/", "/ws"}, *hits)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type closeRecorder struct {
	broker.Noop
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestServer_ShutdownClosesPublisher(t *testing.T) {
	s, _ := newTestServer(t)
	pub := &closeRecorder{}

	s.Shutdown(context.Background(), pub)

	assert.True(t, pub.closed)
}
