package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxInboundSize   = 4096
	defaultSendQueue = 256

	closeUnauthorized  = 4001
	closeUnknownSource = 4004
)

var pongFrame = []byte(`{"type":"pong"}`)

// wsClient is one WebSocket connection subscribed to a single source. Only
// writePump writes data frames; Send never blocks.
type wsClient struct {
	id     string
	source model.SourceID
	conn   *websocket.Conn
	log    zerolog.Logger

	out       chan []byte
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

var _ hub.Subscriber = (*wsClient)(nil)

func newWSClient(conn *websocket.Conn, source model.SourceID, queue int, log zerolog.Logger) *wsClient {
	id := uuid.NewString()
	return &wsClient{
		id:       id,
		source:   source,
		conn:     conn,
		log:      log.With().Str("source", string(source)).Str("subscriber", id).Logger(),
		out:      make(chan []byte, queue),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues msg for the writer. A full queue drops the message.
func (c *wsClient) Send(msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *wsClient) enqueue(data []byte) error {
	select {
	case <-c.done:
		return hub.ErrSubscriberClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return hub.ErrSubscriberClosed
	default:
		return hub.ErrSubscriberBusy
	}
}

func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("ws.write_failed")
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop consumes client frames until the connection fails. The only
// message understood is {"type":"ping"}, answered with a pong.
func (c *wsClient) readLoop() {
	limiter := rate.NewLimiter(rate.Limit(5), 10)

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws.read_failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &in) != nil || in.Type != "ping" {
			continue
		}
		if !limiter.Allow() {
			c.log.Debug().Msg("ws.ping_limited")
			continue
		}
		if err := c.enqueue(pongFrame); errors.Is(err, hub.ErrSubscriberClosed) {
			return
		}
	}
}

func (s *Server) handleStream(c *gin.Context) {
	id := model.SourceID(c.Param("id"))

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("source", string(id)).Msg("ws.upgrade_failed")
		return
	}

	if !s.gate.IsAuthorized(credential(c.Request)) {
		closeWith(conn, closeUnauthorized, "unauthorized")
		return
	}
	if _, ok := s.streams.Spec(id); !ok {
		closeWith(conn, closeUnknownSource, "unknown source")
		return
	}

	client := newWSClient(conn, id, s.sendQueue, s.log)
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	go client.writePump()
	defer func() {
		client.shutdown()
		<-client.pumpDone
	}()

	if err := s.streams.Subscribe(id, client); err != nil {
		s.log.Error().Err(err).Str("source", string(id)).Msg("ws.subscribe_failed")
		return
	}
	defer s.streams.Unsubscribe(id, client)
	client.log.Info().Msg("ws.connected")

	// Server shutdown closes the connection so readLoop returns.
	stop := context.AfterFunc(c.Request.Context(), func() { _ = conn.Close() })
	defer stop()

	client.readLoop()
	client.log.Info().Msg("ws.disconnected")
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
