package models

import "encoding/json"

type EventName string

const (
	EventJoinRoom        EventName = "joinRoom"
	EventDraw            EventName = "draw"
	EventClear           EventName = "clear"
	EventCursor          EventName = "cursor"
	EventUndo            EventName = "undo"
	EventRedo            EventName = "redo"
	EventChatMessage     EventName = "chatMessage"
	EventInitialDrawings EventName = "initialDrawings"
	EventError           EventName = "error"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type DrawEvent struct {
	RoomID string `json:"roomId"`
	DrawingOp
}

type SnapshotEvent struct {
	RoomID   string      `json:"roomId,omitempty"`
	Drawings []DrawingOp `json:"drawings"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
