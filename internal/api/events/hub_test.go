package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/pkg/logger"
)

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := strings.Replace(server.URL, "http://", "ws://", 1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, have %d", want, hub.Count())
}

func TestHubBroadcastsToSubscriber(t *testing.T) {
	hub := NewHub(logger.NewNop())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	waitForSubscribers(t, hub, 1)

	sent := engine.Event{
		Type:  engine.EventStageCompleted,
		RunID: "run-1",
		Kind:  engine.KindRebalance,
		At:    time.Now().UTC(),
		Fields: map[string]interface{}{
			"stage": "rank",
		},
	}
	hub.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got engine.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, engine.EventStageCompleted, got.Type)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, engine.KindRebalance, got.Kind)
	assert.Equal(t, "rank", got.Fields["stage"])
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub(logger.NewNop())
	server := httptest.NewServer(hub)
	defer server.Close()

	first := dialHub(t, server)
	second := dialHub(t, server)
	waitForSubscribers(t, hub, 2)

	hub.Publish(engine.Event{Type: engine.EventRunStarted, RunID: "run-2"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var got engine.Event
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, engine.EventRunStarted, got.Type)
	}
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	hub := NewHub(logger.NewNop())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	// Publishing into an empty hub is a no-op.
	hub.Publish(engine.Event{Type: engine.EventRunCompleted})
	assert.Equal(t, 0, hub.Count())
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(logger.NewNop())

	assert.NotPanics(t, func() {
		hub.Publish(engine.Event{Type: engine.EventRunStarted, RunID: "run-3"})
	})
}

func TestHubClose(t *testing.T) {
	hub := NewHub(logger.NewNop())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	waitForSubscribers(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Count())

	// The server side winds the connection down; the read returns an error
	// once the close frame arrives.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
