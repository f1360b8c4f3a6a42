package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() interface{} {
		return map[string]string{"status": "idle"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		client.Register()
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsInitThenBroadcasts(t *testing.T) {
	hub, conn := startHub(t)

	init := readMessage(t, conn)
	assert.Equal(t, MsgTypeInit, init.Type)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Notify(models.Notification{Kind: models.NotifyLowFuel, Message: "fuel below 20%"})
	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeNotification, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "low_fuel", data["kind"])

	hub.BroadcastSnapshot(map[string]string{"status": "navigating"})
	msg = readMessage(t, conn)
	assert.Equal(t, MsgTypeSnapshot, msg.Type)
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	hub, conn := startHub(t)
	readMessage(t, conn)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
