package chatbot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
)

func testHub(t *testing.T) (*Hub, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(logging.New("test", "error", "json"), eventbus.Config{})
	hub := New(bus, logging.New("test", "error", "json"), Config{PingInterval: time.Hour}, nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })
	return hub, bus
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestServeWSFansOutScopedEvents(t *testing.T) {
	hub, bus := testHub(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "agent-1")
	}))
	defer srv.Close()

	ws := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ConnectionCount())

	_, err := bus.Publish(context.Background(), "wager.settled", eventbus.Scope{AgentID: "agent-1"}, map[string]interface{}{"wagerId": "w1"})
	require.NoError(t, err)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "wager.settled")
	require.Contains(t, string(data), "w1")
}

func TestServeWSIgnoresEventsForOtherRooms(t *testing.T) {
	hub, bus := testHub(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "agent-1")
	}))
	defer srv.Close()

	ws := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := bus.Publish(context.Background(), "wager.settled", eventbus.Scope{AgentID: "agent-2"}, map[string]interface{}{"wagerId": "w2"})
	require.NoError(t, err)

	// Confirm the lone room's traffic is its own: publish a matching event
	// afterward and expect to receive that one, not the agent-2 event.
	_, err = bus.Publish(context.Background(), "wager.settled", eventbus.Scope{AgentID: "agent-1"}, map[string]interface{}{"wagerId": "w3"})
	require.NoError(t, err)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "w3")
	require.NotContains(t, string(data), "w2")
}

func TestStopClosesConnections(t *testing.T) {
	hub, _ := testHub(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "agent-1")
	}))
	defer srv.Close()

	ws := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, hub.Stop(context.Background()))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}
