package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vocalq-backend/internal/session"
	"vocalq-backend/pkg/constants"
	"vocalq-backend/pkg/logger"
)

const (
	pongWait       = constants.WebSocketPingInterval
	pingPeriod     = pongWait * 9 / 10
	writeWait      = constants.WebSocketWriteWait
	maxMessageSize = 64 * 1024

	// 10s of outbound audio at one 20ms chunk per message
	mediaQueueSize = 500
)

// Media stream event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

var errConnClosed = errors.New("media connection closed")

// ConnObserver receives websocket metrics. *metrics.Metrics implements it.
type ConnObserver interface {
	SetWebSocketConnections(kind string, count int)
	RecordWebSocketMessage(msgType, direction string)
	RecordWebSocketError(reason string)
}

type nopConnObserver struct{}

func (nopConnObserver) SetWebSocketConnections(string, int)   {}
func (nopConnObserver) RecordWebSocketMessage(string, string) {}
func (nopConnObserver) RecordWebSocketError(string)           {}

// SessionOpener creates a call session bound to an outbound stream.
// *session.Manager implements it.
type SessionOpener interface {
	Open(ctx context.Context, out session.Outbound) *session.Session
}

// StreamEvent is one inbound message of the telephony media stream
type StreamEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *StreamStart `json:"start,omitempty"`
	Media     *StreamMedia `json:"media,omitempty"`
}

// StreamStart carries the stream identifiers and the TwiML parameters
type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// StreamMedia is one base64 μ-law frame
type StreamMedia struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type outboundEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     *StreamMedia `json:"media,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // telephony provider and dashboards connect cross-origin
	},
}

// MediaGateway terminates telephony media streams, one call session per connection
type MediaGateway struct {
	sessions SessionOpener
	obs      ConnObserver
	active   atomic.Int64
}

// NewMediaGateway creates a media gateway. obs may be nil.
func NewMediaGateway(sessions SessionOpener, obs ConnObserver) *MediaGateway {
	if obs == nil {
		obs = nopConnObserver{}
	}
	return &MediaGateway{sessions: sessions, obs: obs}
}

// ServeWS upgrades GET /api/v1/stream and runs the call until the stream ends
func (g *MediaGateway) ServeWS(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	log := logger.FromContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("Media stream upgrade failed", zap.Error(err))
		g.obs.RecordWebSocketError("upgrade")
		return
	}

	g.obs.SetWebSocketConnections("media", int(g.active.Add(1)))
	defer func() { g.obs.SetWebSocketConnections("media", int(g.active.Add(-1))) }()

	mc := newMediaConn(conn, g.obs, log)
	go mc.writePump()

	sess := g.sessions.Open(ctx, mc)
	log = log.With(zap.String("call_id", sess.ID()))

	// a session that ends on its own hangs up the stream
	go func() {
		select {
		case <-sess.Done():
			mc.close()
		case <-mc.done:
		}
	}()

	mc.readPump(sess, log)

	sess.Stop()
	mc.close()
	log.Info("Media stream closed")
}

// mediaConn is the write side of one media stream. It implements session.Outbound.
// A single goroutine owns the socket writes; clear messages jump the media queue.
type mediaConn struct {
	conn *websocket.Conn
	obs  ConnObserver
	log  *zap.Logger

	media chan []byte
	clear chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newMediaConn(conn *websocket.Conn, obs ConnObserver, log *zap.Logger) *mediaConn {
	return &mediaConn{
		conn:  conn,
		obs:   obs,
		log:   log,
		media: make(chan []byte, mediaQueueSize),
		clear: make(chan []byte, 1),
		done:  make(chan struct{}),
	}
}

// SendMedia queues one μ-law chunk for the caller
func (c *mediaConn) SendMedia(streamSID string, mulaw []byte) error {
	msg, err := json.Marshal(outboundEvent{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &StreamMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.media <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

// SendClear asks the provider to drop buffered audio. Audio still queued
// locally is discarded too.
func (c *mediaConn) SendClear(streamSID string) error {
	msg, err := json.Marshal(outboundEvent{Event: EventClear, StreamSID: streamSID})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.clear <- msg:
	default:
		// one clear already pending
	}
	return nil
}

func (c *mediaConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump feeds inbound events to the session in arrival order
func (c *mediaConn) readPump(sess *session.Session, log *zap.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Media stream read failed", zap.Error(err))
				c.obs.RecordWebSocketError("read")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev StreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug("Invalid media stream message", zap.Error(err))
			c.obs.RecordWebSocketError("decode")
			continue
		}
		c.obs.RecordWebSocketMessage(ev.Event, "inbound")

		switch ev.Event {
		case EventConnected:
			log.Debug("Media stream connected")
		case EventStart:
			if ev.Start == nil {
				log.Warn("Start event without payload")
				continue
			}
			sid := ev.Start.StreamSID
			if sid == "" {
				sid = ev.StreamSID
			}
			log.Info("Media stream started", zap.String("stream_sid", sid), zap.String("provider_call_sid", ev.Start.CallSID))
			sess.Start(sid, ev.Start.CustomParameters["callerNumber"])
		case EventMedia:
			if ev.Media == nil {
				continue
			}
			sess.HandleMedia(ev.Media.Payload)
		case EventStop:
			log.Info("Media stream stop received")
			return
		case EventMark:
		default:
			log.Debug("Ignoring media stream event", zap.String("event", ev.Event))
		}
	}
}

// writePump is the only writer of the socket
func (c *mediaConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		// clear first, whatever else is ready
		select {
		case msg := <-c.clear:
			if !c.writeClear(msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.clear:
			if !c.writeClear(msg) {
				return
			}
		case msg := <-c.media:
			if !c.write(msg, EventMedia) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClear discards audio queued before the clear, then sends it
func (c *mediaConn) writeClear(msg []byte) bool {
	for n := len(c.media); n > 0; n-- {
		<-c.media
	}
	return c.write(msg, EventClear)
}

func (c *mediaConn) write(msg []byte, event string) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debug("Media stream write failed", zap.Error(err))
		c.obs.RecordWebSocketError("write")
		c.close()
		return false
	}
	c.obs.RecordWebSocketMessage(event, "outbound")
	return true
}
