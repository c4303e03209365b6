package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vocalq-backend/internal/database"
	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/constants"
	"vocalq-backend/pkg/logger"
)

// MonitorHub broadcasts live call events to dashboard websockets.
// With Redis available events go through the monitor channel so every
// instance sees every call; otherwise they stay local.
type MonitorHub struct {
	redis   *database.RedisClient
	publish func(ctx context.Context, data []byte) error
	obs     ConnObserver
	log     *zap.Logger

	mu      sync.RWMutex
	clients map[*monitorClient]bool

	register   chan *monitorClient
	unregister chan *monitorClient
	broadcast  chan []byte
	outbound   chan []byte
	done       chan struct{}

	subscribed atomic.Bool
}

type monitorClient struct {
	hub  *MonitorHub
	conn *websocket.Conn
	send chan []byte
}

// NewMonitorHub creates a hub. redis and obs may be nil.
func NewMonitorHub(redisClient *database.RedisClient, obs ConnObserver) *MonitorHub {
	if obs == nil {
		obs = nopConnObserver{}
	}
	h := &MonitorHub{
		redis:      redisClient,
		obs:        obs,
		log:        logger.Log.With(zap.String("component", "monitor")),
		clients:    make(map[*monitorClient]bool),
		register:   make(chan *monitorClient),
		unregister: make(chan *monitorClient),
		broadcast:  make(chan []byte, 256),
		outbound:   make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	if redisClient != nil {
		h.publish = func(ctx context.Context, data []byte) error {
			return redisClient.SafePublish(ctx, constants.MonitorChannel, data).Err()
		}
	}
	return h
}

// Run serves the hub until ctx is done
func (h *MonitorHub) Run(ctx context.Context) {
	defer close(h.done)
	if h.redis != nil {
		go h.subscribe(ctx)
	}
	if h.publish != nil {
		go h.forward(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.obs.SetWebSocketConnections("monitor", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.obs.SetWebSocketConnections("monitor", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow dashboard
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected dashboards
func (h *MonitorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event to every dashboard. It never blocks the caller:
// Redis publishing happens on the hub's forward goroutine.
func (h *MonitorHub) Publish(_ context.Context, event domain.MonitorEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("Failed to encode monitor event", zap.Error(err))
		return
	}

	if h.publish != nil && h.subscribed.Load() {
		select {
		case h.outbound <- data:
			return
		default:
			h.log.Warn("Monitor publish queue full, delivering locally")
		}
	}
	h.deliver(data)
}

// forward publishes queued events to Redis, one bounded call at a time
func (h *MonitorHub) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.outbound:
			pubCtx, cancel := context.WithTimeout(ctx, constants.MonitorPublishTimeout)
			err := h.publish(pubCtx, data)
			cancel()
			if err != nil {
				h.log.Debug("Monitor publish failed, delivering locally", zap.Error(err))
				h.deliver(data)
			}
		}
	}
}

func (h *MonitorHub) deliver(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Monitor broadcast queue full, dropping event")
	}
}

// subscribe relays events published by any instance to local dashboards
func (h *MonitorHub) subscribe(ctx context.Context) {
	pubsub := h.redis.SafeSubscribe(ctx, constants.MonitorChannel)
	if pubsub == nil {
		h.log.Warn("Redis degraded, monitor events stay on this instance")
		return
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn("Failed to subscribe to monitor channel", zap.Error(err))
		return
	}
	h.subscribed.Store(true)
	defer h.subscribed.Store(false)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}

// ServeWS upgrades GET /api/v1/monitor
func (h *MonitorHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Monitor upgrade failed", zap.Error(err))
		h.obs.RecordWebSocketError("upgrade")
		return
	}

	client := &monitorClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only watches for close and pongs; dashboards do not send commands
func (c *monitorClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *monitorClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			c.hub.obs.RecordWebSocketMessage("monitor", "outbound")

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
