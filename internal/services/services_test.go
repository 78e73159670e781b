package services

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

	"github.com/chachabrian/unipool-backend/internal/logging"
)

func TestHubDeliversToUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(logging.Discard())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	alice, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=alice", nil)
	require.NoError(t, err)
	defer alice.Close()
	bob, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=bob", nil)
	require.NoError(t, err)
	defer bob.Close()

	require.Eventually(t, func() bool { return hub.ConnectedClients() == 2 }, 2*time.Second, 10*time.Millisecond)

	n := hub.SendToUser("alice", WebSocketMessage{Type: "notification", Data: map[string]string{"title": "hi"}})
	assert.Equal(t, 1, n)

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := alice.ReadMessage()
	require.NoError(t, err)
	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "notification", msg.Type)

	assert.Zero(t, hub.SendToUser("carol", WebSocketMessage{Type: "notification"}))

	require.NoError(t, bob.WriteJSON(WebSocketMessage{Type: "ping"}))
	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = bob.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "pong", msg.Type)

	bob.Close()
	assert.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBuildMulticastFlattensData(t *testing.T) {
	msg := BuildMulticast([]string{"tok"}, NotificationPayload{
		Title: "Ride Request Accepted",
		Body:  "Dee accepted your ride request",
		Data: map[string]any{
			"rideId":     "r1",
			"passengers": 2,
			"nested":     map[string]int{"a": 1},
		},
	})
	assert.Equal(t, "r1", msg.Data["rideId"])
	assert.Equal(t, "2", msg.Data["passengers"])
	assert.JSONEq(t, `{"a":1}`, msg.Data["nested"])
	assert.Equal(t, "unipool_default", msg.Android.Notification.ChannelID)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
}
