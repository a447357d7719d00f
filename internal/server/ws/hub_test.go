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

	"github.com/alanyoungcy/routeengine/internal/domain"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:   "server",
		Active: func() int { return 2 },
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestHubInitialStatusAndBroadcast(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	status := readJSON(t, conn)
	assert.Equal(t, "engine_status", status["type"])
	payload := status["payload"].(map[string]any)
	assert.Equal(t, "server", payload["mode"])
	assert.EqualValues(t, 2, payload["active_executions"])

	hub.Publish(context.Background(), domain.Event{
		Type:        domain.EventExecutionStarted,
		ExecutionID: "exec-1",
		Status:      domain.ExecutionInProgress,
	})
	ev := readJSON(t, conn)
	assert.Equal(t, domain.EventExecutionStarted, ev["type"])
	assert.Equal(t, "exec-1", ev["execution_id"])
}

func TestHubExecutionFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?execution_id=wanted")
	readJSON(t, conn)

	hub.Publish(context.Background(), domain.Event{Type: domain.EventExecutionStarted, ExecutionID: "other"})
	hub.Publish(context.Background(), domain.Event{Type: domain.EventExecutionFinished, ExecutionID: "wanted"})

	ev := readJSON(t, conn)
	assert.Equal(t, "wanted", ev["execution_id"])
	assert.Equal(t, domain.EventExecutionFinished, ev["type"])
}

func TestClientWants(t *testing.T) {
	c := &client{topics: map[string]bool{}, executions: map[string]bool{}}
	c.handleSubscription(subscribeMsg{Action: "subscribe", Topics: []string{"execution.finished"}})
	assert.True(t, c.wants(domain.EventExecutionFinished, "a"))
	assert.False(t, c.wants(domain.EventExecutionStarted, "a"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Topics: []string{"execution.*"}, Executions: []string{"a"}})
	assert.True(t, c.wants(domain.EventSegmentFinished, "a"))
	assert.False(t, c.wants(domain.EventSegmentFinished, "b"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Executions: []string{"a"}})
	assert.True(t, c.wants(domain.EventSegmentFinished, "b"))
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHubRelay(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readJSON(t, conn)

	bus := &chanBus{ch: make(chan []byte, 2)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Relay(ctx, bus, "ch:execution")

	bus.ch <- []byte("not json")
	payload, err := json.Marshal(domain.Event{Type: domain.EventExecutionPaused, ExecutionID: "remote"})
	require.NoError(t, err)
	bus.ch <- payload

	ev := readJSON(t, conn)
	assert.Equal(t, "remote", ev["execution_id"])
}
