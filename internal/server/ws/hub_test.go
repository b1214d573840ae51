package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(func() any { return map[string]string{"phase": "stopped"} }, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubSendsStatusOnConnectAndPublishes(t *testing.T) {
	hub, conn := startHub(t)

	first := readEvent(t, conn)
	assert.Equal(t, domain.EventStatus, first["type"])

	require.NoError(t, hub.Publish(context.Background(), domain.EventTradeOpened, map[string]string{"symbol": "BTCUSDT"}))
	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventTradeOpened, ev["type"])
	assert.Equal(t, "BTCUSDT", ev["payload"].(map[string]any)["symbol"])
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, conn := startHub(t)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{domain.EventEmergencyStop}}))
	// Give the read pump a moment to apply the filter.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), domain.EventMarketData, nil))
	hub.Broadcast([]byte(`{"type":"emergency_stop","payload":{"reason":"max_drawdown"}}`))

	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventEmergencyStop, ev["type"])
}

func TestBroadcastIgnoresMalformed(t *testing.T) {
	hub := NewHub(nil, nil, testLogger())
	hub.Broadcast([]byte("not json"))
	hub.Broadcast([]byte(`{"payload":1}`))
	assert.Empty(t, hub.broadcast)
}
