package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// Transport is the minimal connection surface the registry needs.
// Send must never block: enqueue or drop.
type Transport interface {
	Send(p []byte) error
	Close() error
}

type Conn struct {
	ws     *websocket.Conn
	out    chan []byte
	closed atomic.Bool
}

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// NewConn wraps a WS connection with a buffered outbound queue
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:  ws,
		out: make(chan []byte, 256),
	}
}

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return []byte(data), true
		}
	}
}

// WriteLoop sends outbound messages + periodic pings
// Exits when ctx is cancelled or the peer goes away
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
				c.closed.Store(true)
				return
			}
		case <-t.C:
			if err := c.ws.Ping(ctx); err != nil {
				c.closed.Store(true)
				return
			}
		case <-ctx.Done():
			c.closed.Store(true)
			return
		}
	}
}

// Send enqueues without blocking. A full buffer drops the message (slow
// consumer); a closed connection reports ErrConnClosed so the registry
// runs the disconnect path.
func (c *Conn) Send(p []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.out <- p:
	default: // skip if send buffer is full
	}
	return nil
}

// Close closes the WS connection normally
func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
