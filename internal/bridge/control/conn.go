package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrChannelClosed is returned when writing to a closed channel.
var ErrChannelClosed = errors.New("control channel closed")

// Channel is the outbound half of a call-control connection.
type Channel interface {
	Send(cmd Command) error
	Ping() error
	Close() error
}

// Stream is a full call-control connection: commands out, messages in.
type Stream interface {
	Channel
	// Receive blocks for the next inbound message. A remote close is reported
	// as *CloseError; any other error means the transport failed.
	Receive() (Message, error)
}

// CloseError reports that the far end closed the websocket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("control channel closed by peer: code=%d reason=%q", e.Code, e.Reason)
}

// Conn is a Stream over a gorilla websocket. Writes are serialized; reads must
// come from a single goroutine.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) Receive() (Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return Message{}, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return Message{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("[Control] Skipping malformed frame", "remote", c.RemoteAddr(), "size", len(data), "error", err)
			continue
		}
		return msg, nil
	}
}

func (c *Conn) Send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Describe(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a normal close frame and releases the socket. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}
