package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kendall-kelly/atelier-market-api/metrics"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// client is one socket connection. Only writePump writes data frames.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal Principal
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, p Principal) *client {
	return &client{
		hub:       h,
		conn:      conn,
		principal: p,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. A client whose buffer is full is
// disconnected rather than allowed to stall the fan-out.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		metrics.SocketDroppedTotal.Inc()
		c.hub.logger.Warn("Dropping slow socket client", zap.String("user_id", c.principal.UserID))
		c.close()
		return false
	}
}

func (c *client) reply(typ, ticketID string, data any) {
	env, err := newEnvelope(typ, c.principal.UserID, ticketID, data, c.hub.now().UTC())
	if err != nil {
		c.hub.logger.Error("Failed to encode socket reply", zap.String("type", typ), zap.Error(err))
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("Failed to encode socket reply", zap.String("type", typ), zap.Error(err))
		return
	}
	if c.enqueue(frame) {
		metrics.SocketEventsSentTotal.WithLabelValues(typ).Inc()
	}
}

func (c *client) replyError(code, message string) {
	c.reply(TypeError, "", ErrorData{Code: code, Message: message})
}

// closeWith sends a close frame with the given code, then tears down
func (c *client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.hub.unregister(c)
		metrics.SocketConnections.Dec()
		c.hub.logger.Debug("Socket closed", zap.String("user_id", c.principal.UserID))
	})
}

func (c *client) readPump() {
	defer c.close()

	pongWait := 2 * c.hub.pingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Socket read failed", zap.String("user_id", c.principal.UserID), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.replyError("INVALID_MESSAGE", "message is not a valid JSON envelope")
			continue
		}
		c.hub.handle(c, env)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
