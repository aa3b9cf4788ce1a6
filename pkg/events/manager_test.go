package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer upgrades every request and hands the connection to the
// manager, mirroring the production handler.
func wsTestServer(t *testing.T, m *ConnectionManager) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionLifecycle(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	welcome := readMessage(t, conn)
	assert.Equal(t, "connection.established", welcome["type"])
	assert.NotEmpty(t, welcome["connection_id"])

	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeAndBroadcast(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	readMessage(t, conn) // connection.established

	send(t, conn, ClientMessage{Action: "subscribe", Channel: OutcomesChannel})
	confirmed := readMessage(t, conn)
	assert.Equal(t, "subscription.confirmed", confirmed["type"])
	assert.Equal(t, OutcomesChannel, confirmed["channel"])

	require.Eventually(t, func() bool {
		return m.subscriberCount(OutcomesChannel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Broadcast(OutcomesChannel, []byte(`{"type":"command.outcome","data":{"itemId":"a"}}`))
	msg := readMessage(t, conn)
	assert.Equal(t, "command.outcome", msg["type"])
}

func TestBroadcastOnlyReachesSubscribedChannel(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	readMessage(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: SystemChannel})
	readMessage(t, conn) // confirmation

	// A broadcast on a different channel must not reach this client; the
	// next read should instead deliver the system-channel payload sent
	// afterwards.
	m.Broadcast(OutcomesChannel, []byte(`{"type":"command.outcome"}`))
	m.Broadcast(SystemChannel, []byte(`{"type":"emergency.stop"}`))

	msg := readMessage(t, conn)
	assert.Equal(t, "emergency.stop", msg["type"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	readMessage(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: OutcomesChannel})
	readMessage(t, conn)
	require.Eventually(t, func() bool {
		return m.subscriberCount(OutcomesChannel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, conn, ClientMessage{Action: "unsubscribe", Channel: OutcomesChannel})
	require.Eventually(t, func() bool {
		return m.subscriberCount(OutcomesChannel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPing(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	readMessage(t, conn)

	send(t, conn, ClientMessage{Action: "ping"})
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestSubscribeRequiresChannel(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)

	conn := dial(t, srv)
	readMessage(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe"})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestPublisherEnvelope(t *testing.T) {
	m := NewConnectionManager(time.Second)
	srv := wsTestServer(t, m)
	publisher := NewPublisher(m)

	conn := dial(t, srv)
	readMessage(t, conn)
	send(t, conn, ClientMessage{Action: "subscribe", Channel: SystemChannel})
	readMessage(t, conn)
	require.Eventually(t, func() bool {
		return m.subscriberCount(SystemChannel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	publisher.BroadcastEmergencyStop(true, "manual")

	msg := readMessage(t, conn)
	assert.Equal(t, EventTypeEmergencyStop, msg["type"])
	assert.NotEmpty(t, msg["timestamp"])
	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["active"])
	assert.Equal(t, "manual", data["reason"])
}
