package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/shared/testutil"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	metrics, err := NewOTelMetrics()
	require.NoError(t, err)

	hub := NewHub(logger, metrics)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func textMessages(conn *MockConnection) []Message {
	var out []Message
	for _, m := range conn.GetWrittenMessages() {
		if m.Type != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func connect(t *testing.T, hub *Hub) (*Client, *MockConnection) {
	t.Helper()
	conn := NewMockConnection()
	client := NewClient(hub, conn, nil)
	go client.Serve()
	require.Eventually(t, func() bool { return hub.ClientCount() >= 1 }, time.Second, 5*time.Millisecond)
	return client, conn
}

func TestHubBroadcastReachesClients(t *testing.T) {
	hub := newTestHub(t)
	_, a := connect(t, hub)
	conn := NewMockConnection()
	go NewClient(hub, conn, nil).Serve()
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(TypeLicenseChange, map[string]string{"to": "active"})

	for _, c := range []*MockConnection{a, conn} {
		require.Eventually(t, func() bool { return len(textMessages(c)) == 1 }, time.Second, 5*time.Millisecond)
		msg := textMessages(c)[0]
		assert.Equal(t, TypeLicenseChange, msg.Type)
		assert.Equal(t, map[string]interface{}{"to": "active"}, msg.Data)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestClientQueueBeforeRegister(t *testing.T) {
	hub := newTestHub(t)
	conn := NewMockConnection()
	client := NewClient(hub, conn, nil)
	require.NoError(t, client.Queue(TypeLicenseStatus, map[string]string{"status": "active"}))
	go client.Serve()

	require.Eventually(t, func() bool { return len(textMessages(conn)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypeLicenseStatus, textMessages(conn)[0].Type)
	assert.NotEmpty(t, client.ID())
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := newTestHub(t)
	_, conn := connect(t, hub)

	conn.AddReadMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`), nil)
	conn.AddReadMessage(0, nil, errors.New("peer went away"))

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
}

func TestHubStopClosesClients(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, nil)
	hub.Start()
	_, conn := connect(t, hub)

	hub.Stop()
	hub.Stop()

	require.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())

	// Broadcasting and registering after stop are no-ops
	hub.Broadcast(TypeLicenseChange, nil)
	assert.False(t, hub.Register(NewClient(hub, NewMockConnection(), nil)))
}

func TestHubStats(t *testing.T) {
	hub := newTestHub(t)
	_, conn := connect(t, hub)
	hub.Broadcast(TypeLicenseChange, "x")
	require.Eventually(t, func() bool { return len(textMessages(conn)) == 1 }, time.Second, 5*time.Millisecond)

	stats := hub.Stats()
	assert.Equal(t, 1, stats["active_clients"])
	assert.Equal(t, int64(1), stats["total_connections"])
	assert.Equal(t, int64(1), stats["messages_sent"])
}
