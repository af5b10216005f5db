package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/models"
)

func setupWSTest(t *testing.T) (*WebSocketHandler, string) {
	t.Helper()
	handler := NewWebSocketHandler(arbor.NewLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return handler, wsURL
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketConnect(t *testing.T) {
	handler, wsURL := setupWSTest(t)

	conn := dialWS(t, wsURL)

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, payload["server_instance_id"])

	assert.Equal(t, 1, handler.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool {
		return handler.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect reaps the client")
}

func TestBroadcastJobEvent(t *testing.T) {
	handler, wsURL := setupWSTest(t)

	first := dialWS(t, wsURL)
	second := dialWS(t, wsURL)

	// Drain the connected handshake on both
	var msg WSMessage
	require.NoError(t, first.ReadJSON(&msg))
	require.NoError(t, second.ReadJSON(&msg))

	job := models.NewJob(models.JobNameMediaSync, map[string]interface{}{
		models.PayloadServerID: "srv-1",
	}, nil)
	job.State = models.JobStateCompleted
	handler.BroadcastJobEvent(models.NewJobEvent(models.JobEventCompleted, job))

	for _, conn := range []*websocket.Conn{first, second} {
		var event WSMessage
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, string(models.JobEventCompleted), event.Type)

		payload, ok := event.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, job.ID, payload["job_id"])
		assert.Equal(t, models.JobNameMediaSync, payload["job_name"])
		assert.Equal(t, "srv-1", payload["server_id"])
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger())

	job := models.NewJob(models.JobNameMediaSync, nil, nil)
	handler.BroadcastJobEvent(models.NewJobEvent(models.JobEventStarted, job))

	assert.Equal(t, 0, handler.ClientCount())
}
