package websocket

import (
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client ties one WebSocket connection to one bus subscription. When the
// bus drops the subscription for lagging, the closed channel ends writePump
// and the connection with it.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	sub     *bus.Subscriber
	publish bool // trading rooms let clients post messages
	log     *zap.Logger
}

// readPump consumes inbound frames: pong handling, plus room chatter when
// the topic allows publishing.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		if c.publish {
			c.hub.events.Publish(c.sub.Topic, "message", string(message))
		}
	}
}

// writePump forwards bus events to the peer and keeps the ping schedule.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the bus, or unsubscribed on shutdown.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber lagged"))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
			metrics.GetCollector().RecordWSMessage(topicKind(c.sub.Topic))

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// topicKind reduces "book.BTC/USDT" to "book" to bound label cardinality.
func topicKind(topic string) string {
	if i := strings.IndexByte(topic, '.'); i > 0 {
		return topic[:i]
	}
	return topic
}
