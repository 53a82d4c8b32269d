package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"whiteboard-relay/internal/models"
	"whiteboard-relay/internal/services"
	"whiteboard-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

type Options struct {
	MaxMessageBytes int64
	EventsPerSecond int
	EventBurst      int
	SendBuffer      int
}

// Presence is the part of the presence tracker the gateway drives.
type Presence interface {
	Join(ctx context.Context, roomID string, identity models.Identity) (models.Snapshot, bool)
	Leave(ctx context.Context, roomID, subjectID string, counted bool) services.TeardownDecision
}

// Gateway owns every live connection: it attaches them to rooms, routes
// their frames to the relay and runs leave cleanup on disconnect.
type Gateway struct {
	presence Presence
	registry *Registry
	relay    *Relay
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Client
	wg       sync.WaitGroup
}

func NewGateway(presence Presence, registry *Registry, relay *Relay, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Gateway{
		presence: presence,
		registry: registry,
		relay:    relay,
		opts:     opts,
		sessions: make(map[string]*Client),
	}
}

// Connect registers an authenticated channel. Nothing room-related happens
// until the client sends joinRoom.
func (g *Gateway) Connect(conn *websocket.Conn, identity models.Identity) *Client {
	client := newClient(g, conn, identity, g.opts)
	g.track(client)
	logger.Info("User %s connected (%s)", identity.SubjectID, client.id)
	return client
}

func (g *Gateway) track(client *Client) {
	g.mu.Lock()
	g.sessions[client.id] = client
	g.mu.Unlock()
	g.wg.Add(1)
}

func (g *Gateway) HandleFrame(c *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		logger.Warn("Dropping malformed frame from connection %s", c.id)
		return
	}

	ctx := context.Background()
	if env.Event == models.EventJoinRoom {
		roomID, err := decodeRoomID(env.Data)
		if err != nil || roomID == "" {
			logger.Warn("Dropping joinRoom without a room id from connection %s", c.id)
			g.sendError(c, "joinRoom requires a room id")
			return
		}
		g.Join(ctx, c, roomID)
		return
	}

	if err := g.relay.Dispatch(ctx, c, env); err != nil {
		logger.Warn("Dropping %s from connection %s: %v", env.Event, c.id, err)
	}
}

// Join attaches c to roomID, leaving its current room first. The old room's
// leave completes before the new room is touched.
func (g *Gateway) Join(ctx context.Context, c *Client, roomID string) {
	if c.RoomID() != "" {
		g.leave(ctx, c)
	}

	c.hold()
	g.registry.AddMember(roomID, c)
	c.setRoom(roomID, false)

	snapshot, counted := g.presence.Join(ctx, roomID, c.identity)
	c.setRoom(roomID, counted)

	frame, err := encodeFrame(models.EventInitialDrawings, snapshot.Drawings)
	if err != nil {
		logger.Error("Error marshaling initial drawings for room %s: %v", roomID, err)
		frame, _ = encodeFrame(models.EventInitialDrawings, []models.DrawingOp{})
	}
	c.release(frame)
	logger.Info("User %s joined room %s", c.identity.SubjectID, roomID)
}

func (g *Gateway) leave(ctx context.Context, c *Client) {
	roomID, counted := c.membership()
	g.registry.RemoveMember(roomID, c.id)
	c.setRoom("", false)
	decision := g.presence.Leave(ctx, roomID, c.identity.SubjectID, counted)
	logger.Info("User %s left room %s (room %s)", c.identity.SubjectID, roomID, decision)
}

// Disconnect is the close hook. It is safe to call more than once and runs to
// completion without the channel.
func (g *Gateway) Disconnect(c *Client) {
	g.mu.Lock()
	_, tracked := g.sessions[c.id]
	delete(g.sessions, c.id)
	g.mu.Unlock()
	if !tracked {
		return
	}
	defer g.wg.Done()

	if c.RoomID() != "" {
		g.leave(context.Background(), c)
	}
	c.Close()
	logger.Info("User %s disconnected (%s)", c.identity.SubjectID, c.id)
}

func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown closes every connection and waits for their cleanup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.sessions))
	for _, c := range g.sessions {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.Close()
		} else {
			g.Disconnect(c)
		}
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("gateway: shutdown timed out before all connections were cleaned up")
	}
}

func (g *Gateway) sendError(c *Client, message string) {
	frame, err := encodeFrame(models.EventError, models.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	c.Deliver(frame)
}
