package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"whiteboard-relay/internal/database"
	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrMalformedEvent = errors.New("relay: malformed event")
	ErrNotInRoom      = errors.New("relay: connection is not joined to the event's room")
	ErrUnknownEvent   = errors.New("relay: unknown event")
)

// HandlerFunc handles one inbound event for one connection.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Relay validates membership, applies the durable side effect of an event and
// fans it out to the room.
type Relay struct {
	store    database.DrawingRepository
	registry *Registry
	handlers map[models.EventName]HandlerFunc
	metrics  *relayMetrics
	now      func() time.Time
}

func NewRelay(store database.DrawingRepository, registry *Registry) *Relay {
	r := &Relay{
		store:    store,
		registry: registry,
		metrics:  newRelayMetrics(registry),
		now:      time.Now,
	}
	r.handlers = map[models.EventName]HandlerFunc{
		models.EventDraw:        r.handleDraw,
		models.EventClear:       r.handleClear,
		models.EventUndo:        r.handleSnapshot(models.EventUndo),
		models.EventRedo:        r.handleSnapshot(models.EventRedo),
		models.EventCursor:      r.handleCursor,
		models.EventChatMessage: r.handleChat,
	}
	return r
}

// Events lists the event names the relay handles.
func (r *Relay) Events() []models.EventName {
	names := make([]models.EventName, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Relay) Dispatch(ctx context.Context, c *Client, env models.Envelope) error {
	handler, ok := r.handlers[env.Event]
	if !ok {
		r.metrics.drop(ctx, string(env.Event), "unknown")
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err := handler(ctx, c, env.Data); err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrMalformedEvent):
			reason = "malformed"
		case errors.Is(err, ErrNotInRoom):
			reason = "not_in_room"
		}
		r.metrics.drop(ctx, string(env.Event), reason)
		return err
	}

	r.metrics.handled(ctx, string(env.Event))
	return nil
}

func (r *Relay) handleDraw(ctx context.Context, c *Client, data json.RawMessage) error {
	var event models.DrawEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := r.checkRoom(c, event.RoomID); err != nil {
		return err
	}
	if err := event.DrawingOp.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	event.UserID = c.identity.SubjectID
	if err := r.store.AppendLogEntry(ctx, event.RoomID, event.DrawingOp); err != nil {
		logger.Error("Error saving drawing %s to room %s: %v", event.ID, event.RoomID, err)
	}

	r.broadcast(ctx, event.RoomID, "", models.EventDraw, event)
	return nil
}

func (r *Relay) handleClear(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, err := decodeRoomID(data)
	if err != nil {
		return err
	}
	if err := r.checkRoom(c, roomID); err != nil {
		return err
	}

	if err := r.store.ClearLog(ctx, roomID); err != nil {
		logger.Error("Error clearing drawings for room %s: %v", roomID, err)
	}

	r.broadcast(ctx, roomID, "", models.EventClear, nil)
	return nil
}

// snapshotPayload distinguishes a missing drawings field from an empty one.
type snapshotPayload struct {
	RoomID   string              `json:"roomId"`
	Drawings *[]models.DrawingOp `json:"drawings"`
}

// handleSnapshot serves undo and redo: the caller's snapshot replaces the log
// verbatim. Concurrent replacements race and the last durable write wins.
func (r *Relay) handleSnapshot(event models.EventName) HandlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var payload snapshotPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if err := r.checkRoom(c, payload.RoomID); err != nil {
			return err
		}
		if payload.Drawings == nil {
			return fmt.Errorf("%w: %s without drawings", ErrMalformedEvent, event)
		}

		drawings := *payload.Drawings
		if err := r.store.ReplaceLog(ctx, payload.RoomID, drawings); err != nil {
			logger.Error("Error replacing drawings for room %s on %s: %v", payload.RoomID, event, err)
		}

		r.broadcast(ctx, payload.RoomID, "", event, models.SnapshotEvent{Drawings: drawings})
		return nil
	}
}

func (r *Relay) handleCursor(ctx context.Context, c *Client, data json.RawMessage) error {
	var sample models.CursorSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := r.checkRoom(c, sample.RoomID); err != nil {
		return err
	}

	sample.UserID = c.identity.SubjectID
	r.broadcast(ctx, sample.RoomID, c.id, models.EventCursor, sample)
	return nil
}

func (r *Relay) handleChat(ctx context.Context, c *Client, data json.RawMessage) error {
	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := r.checkRoom(c, msg.RoomID); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("%w: empty chat message", ErrMalformedEvent)
	}

	msg.UserID = c.identity.SubjectID
	if msg.UserName == "" {
		msg.UserName = c.identity.DisplayName
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = r.now().UnixMilli()
	}

	r.broadcast(ctx, msg.RoomID, "", models.EventChatMessage, msg)
	return nil
}

func (r *Relay) checkRoom(c *Client, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrMalformedEvent)
	}
	if c.RoomID() != roomID {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	return nil
}

// broadcast queues the event to every member of roomID except the connection
// id in except (empty for none). Slow members are closed by Deliver and
// cleaned up by their own disconnect hook.
func (r *Relay) broadcast(ctx context.Context, roomID, except string, event models.EventName, payload interface{}) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		logger.Error("Error marshaling %s for room %s: %v", event, roomID, err)
		return
	}

	delivered := 0
	for _, member := range r.registry.MembersExcept(roomID, except) {
		if member.Deliver(frame) {
			delivered++
		} else {
			logger.Warn("Dropped %s for slow connection %s in room %s", event, member.id, roomID)
		}
	}
	r.metrics.delivered(ctx, string(event), delivered)
}

func encodeFrame(event models.EventName, payload interface{}) ([]byte, error) {
	env := models.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// decodeRoomID accepts either a bare JSON string or {"roomId": "..."}.
func decodeRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err == nil {
		return roomID, nil
	}

	var ref models.RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ref.RoomID, nil
}
