package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speechloop/speechloop/pkg/logger"
)

func newTestHub(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	hub := NewServer(logger.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishReachesConnectedClient(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)

	// Registration races the broadcast below, so wait for the hub to
	// pick the client up.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(MessageTypeRecordScored, map[string]interface{}{
		"record_id": float64(7),
		"score":     "excellent",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, MessageTypeRecordScored, msg.Type)
	assert.Equal(t, float64(7), msg.Data["record_id"])
	assert.Equal(t, "excellent", msg.Data["score"])
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing with no clients must not block or panic.
	hub.Publish(MessageTypeRecordCreated, map[string]interface{}{"record_id": float64(1)})
}

func TestInboundFramesAreIgnored(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	// The feed is one-way: whatever a client sends, it stays connected
	// and keeps receiving events.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	hub.Publish(MessageTypeRecordArchived, map[string]interface{}{"record_id": float64(3)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeRecordArchived, msg.Type)
}
