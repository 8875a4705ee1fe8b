package gateway

import (
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
)

const (
	maxMessageSize = 64 * 1024
)

// Handler receives decoded client requests and disconnect notifications.
type Handler interface {
	HandleMessage(userID string, req protocol.ClientRequest)
	Disconnect(userID string, c registry.Client)
}

// Compile-time check to ensure Client satisfies the registry's connection handle
var _ registry.Client = (*Client)(nil)

// Client adapts one websocket connection to a session: a read pump decoding
// typed requests and a write pump with ping keepalive. Sends are buffered;
// when the buffer is full the message is dropped (backpressure), never blocked.
type Client struct {
	conn    net.Conn
	userID  string
	email   string
	handler Handler
	logger  *zap.Logger

	send   chan []byte
	mu     sync.Mutex
	closed bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, userID, email string, handler Handler, logger *zap.Logger) *Client {
	return &Client{
		conn:       conn,
		userID:     userID,
		email:      email,
		handler:    handler,
		logger:     logger,
		send:       make(chan []byte, 256),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) UserID() string { return c.userID }
func (c *Client) Email() string  { return c.email }

// Close shuts the send channel exactly once; the write pump then emits a
// normal-closure frame and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}
	c.enqueue(b)
}

func (c *Client) SendBytes(b []byte) {
	c.enqueue(b)
}

func (c *Client) enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// Drop message if buffer full (Backpressure)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.handler.Disconnect(c.userID, c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		}

		if header.OpCode == ws.OpText {
			var req protocol.ClientRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				c.logger.Warn("Dropped malformed message",
					zap.String("user_id", c.userID), zap.Error(err))
				continue
			}

			req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
			req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
			req.Action = strings.ToUpper(strings.TrimSpace(req.Action))

			c.handler.HandleMessage(c.userID, req)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
