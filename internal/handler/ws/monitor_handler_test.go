package ws

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
)

func TestMonitorHub_BroadcastsLocally(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := newWSObserver()
	hub := NewMonitorHub(nil, obs)
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/api/v1/monitor", hub.ServeWS)
	server := httptest.NewServer(router)
	defer server.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/monitor"), nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/monitor"), nil)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(context.Background(), domain.MonitorEvent{
		Type:   domain.MonitorCallStarted,
		CallID: "call-1",
		Caller: "+15550001111",
	})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev domain.MonitorEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, domain.MonitorCallStarted, ev.Type)
		assert.Equal(t, "call-1", ev.CallID)
		assert.False(t, ev.Timestamp.IsZero())
	}

	first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMonitorHub_PublishWithoutClients(t *testing.T) {
	hub := NewMonitorHub(nil, nil)

	for i := 0; i < 300; i++ {
		hub.Publish(context.Background(), domain.MonitorEvent{Type: domain.MonitorCallUpdated, CallID: "c"})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestMonitorHub_SlowRedisDoesNotBlockPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewMonitorHub(nil, nil)
	deadlines := make(chan bool, 1)
	hub.publish = func(ctx context.Context, _ []byte) error {
		_, ok := ctx.Deadline()
		select {
		case deadlines <- ok:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	hub.subscribed.Store(true)
	go hub.Run(ctx)

	start := time.Now()
	for i := 0; i < 600; i++ {
		hub.Publish(context.Background(), domain.MonitorEvent{Type: domain.MonitorTranscriptUpdate, CallID: "c"})
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	select {
	case bounded := <-deadlines:
		assert.True(t, bounded, "redis publish must run under a deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("no event reached the redis publisher")
	}
}

func TestMonitorHub_ClosesClientsOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewMonitorHub(nil, nil)
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/api/v1/monitor", hub.ServeWS)
	server := httptest.NewServer(router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/monitor"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}
