package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one websocket connection for one authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
	role   models.UserRole
	rooms  map[string]struct{}

	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

func NewClient(h *Hub, conn *websocket.Conn, userID uint, role models.UserRole) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		role:   role,
		rooms:  make(map[string]struct{}),
		log: h.log.WithFields(logrus.Fields{
			"user_id": userID,
			"role":    role,
		}),
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend enqueues without blocking; false means the client is gone or its
// buffer is full.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// clientMsg is everything a browser may send.
type clientMsg struct {
	Type           string `json:"type"`
	StreamID       uint   `json:"stream_id,omitempty"`
	NotificationID uint   `json:"notification_id,omitempty"`
	Read           *bool  `json:"read,omitempty"`
}

// Serve runs the read and write pumps until either side drops. The caller's
// ctx bounds the connection lifetime.
func (c *Client) Serve(ctx context.Context) {
	c.hub.Attach(c)
	defer func() {
		c.hub.Detach(c)
		c.Close()
		c.conn.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(cancel)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket read error")
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(envelope{Event: "error", Data: map[string]any{"message": "invalid json"}})
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg clientMsg) {
	switch msg.Type {
	case "join_stream":
		if err := c.hub.JoinStream(ctx, c, msg.StreamID); err != nil {
			c.reply(envelope{Event: "error", Data: map[string]any{
				"message":   "stream join refused",
				"stream_id": msg.StreamID,
			}})
			return
		}
		c.reply(envelope{Event: "joined_stream", Data: map[string]any{"stream_id": msg.StreamID}})

	case "leave_stream":
		c.hub.LeaveStream(c, msg.StreamID)

	case "get_unread_notifications":
		logs, err := c.hub.unread(ctx, c)
		if err != nil {
			c.log.WithError(err).Error("unread reconciliation failed")
			c.reply(envelope{Event: "error", Data: map[string]any{"message": "unread lookup failed"}})
			return
		}
		c.reply(envelope{Event: "unread_notifications", Data: logs})

	case "mark_notification_read":
		read := true
		if msg.Read != nil {
			read = *msg.Read
		}
		if err := c.hub.detections.MarkRead(ctx, msg.NotificationID, read); err != nil {
			c.log.WithError(err).Error("mark read failed")
			return
		}
		c.hub.PublishNotificationUpdate(c.userID, msg.NotificationID, read)

	default:
		c.reply(envelope{Event: "error", Data: map[string]any{"message": "unknown message type"}})
	}
}

// reply writes directly to this client, bypassing rooms.
func (c *Client) reply(ev envelope) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.trySend(payload)
}

func (c *Client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
