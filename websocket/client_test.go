package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/chat-relay/config"
)

func testWebSocketConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		HandshakeTimeout: 5,
		PingInterval:     1,
		PongTimeout:      3,
		ActivityTimeout:  30,
		WriteTimeout:     2,
		KeepAlive:        true,
	}
}

func TestClientSession_SendQueuesFrame(t *testing.T) {
	cs := NewClientSession("c1", "alice", nil, testWebSocketConfig())

	require.NoError(t, cs.Send(EventConnected, Connected{ConnectionID: "c1", UserID: "alice"}))

	payload := <-cs.send
	var got struct {
		Event string    `json:"event"`
		Data  Connected `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, EventConnected, got.Event)
	assert.Equal(t, "alice", got.Data.UserID)
}

func TestClientSession_SendBufferFull(t *testing.T) {
	cs := NewClientSession("c1", "alice", nil, testWebSocketConfig())

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, cs.Send(EventReceiveMessage, i))
	}
	assert.ErrorIs(t, cs.Send(EventReceiveMessage, "overflow"), ErrBufferFull)
}

func TestClientSession_SendAfterClose(t *testing.T) {
	cs := NewClientSession("c1", "alice", nil, testWebSocketConfig())
	cs.Close(websocket.CloseNormalClosure, "")

	select {
	case <-cs.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.ErrorIs(t, cs.Send(EventConnected, nil), ErrSessionClosed)

	// A second close is a no-op.
	cs.Close(websocket.CloseGoingAway, "again")
}

func TestClientSession_UpdateActivity(t *testing.T) {
	cs := NewClientSession("c1", "alice", nil, testWebSocketConfig())
	cs.lastActivity.Store(time.Now().Add(-time.Hour).Unix())

	cs.UpdateActivity()

	assert.WithinDuration(t, time.Now(), cs.LastActivityTime(), 2*time.Second)
}
