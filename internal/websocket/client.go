package websocket

import (
	"sync"
	"time"

	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated connection. It is joined to at most one room.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	identity models.Identity
	limiter  *rate.Limiter
	gateway  *Gateway

	mu      sync.Mutex
	roomID  string
	counted bool // the join was added to the room's durable count
	holding bool
	pending [][]byte
	closed  bool
}

func newClient(gateway *Gateway, conn *websocket.Conn, identity models.Identity, opts Options) *Client {
	var limiter *rate.Limiter
	if opts.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EventsPerSecond), opts.EventBurst)
	}

	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, opts.SendBuffer),
		identity: identity,
		limiter:  limiter,
		gateway:  gateway,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Identity() models.Identity {
	return c.identity
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string, counted bool) {
	c.mu.Lock()
	c.roomID = roomID
	c.counted = counted
	c.mu.Unlock()
}

func (c *Client) membership() (roomID string, counted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.counted
}

// Deliver queues a frame without blocking. A full buffer closes the client;
// false means the frame was not queued.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.holding {
		// one slot stays free for the snapshot queued by release
		if len(c.pending) >= cap(c.send)-1 {
			c.closeLocked()
			return false
		}
		c.pending = append(c.pending, frame)
		return true
	}
	return c.enqueueLocked(frame)
}

func (c *Client) enqueueLocked(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// hold buffers live frames until release queues the join snapshot.
func (c *Client) hold() {
	c.mu.Lock()
	c.holding = true
	c.pending = nil
	c.mu.Unlock()
}

func (c *Client) release(first []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pending
	c.holding = false
	c.pending = nil
	if c.closed {
		return
	}
	if !c.enqueueLocked(first) {
		return
	}
	for _, frame := range pending {
		if !c.enqueueLocked(frame) {
			return
		}
	}
}

// Close stops delivery; the write pump then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.gateway.Disconnect(c)
		c.conn.Close()
	}()

	if c.gateway.opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.gateway.opts.MaxMessageBytes)
	}
	// Set read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logger.Warn("Rate limit exceeded for connection %s (user %s, warning #%d)",
					c.id, c.identity.SubjectID, rateLimitWarnings)
			}
			continue
		}

		c.gateway.HandleFrame(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
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
