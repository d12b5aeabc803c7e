// Package ws owns the websocket edge: upgrading connections, pumping
// frames, and bridging sockets into the session registry.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

// Client wraps one user's websocket connection. All writes, including
// pings, go through a single mutex so frames from the registry, the send
// echo, and the keepalive loop never interleave on the wire.
type Client struct {
	UserID int64

	conn *websocket.Conn
	cfg  config.WebSocketConfig

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewClient(userID int64, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// WriteLocked writes one text frame under the connection's write lock.
func (c *Client) WriteLocked(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	c.mu.Unlock()
	return c.conn.Close()
}

// ReadPump delivers inbound frames to handler until the connection dies.
// Runs on the connection's goroutine; returns when the socket closes.
func (c *Client) ReadPump(handler func([]byte)) {
	defer c.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Int64(log.FieldUserID, c.UserID).Err(err).Msg("websocket read error")
			}
			return
		}
		handler(message)
	}
}

// PingLoop keeps the connection alive until Close.
func (c *Client) PingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
