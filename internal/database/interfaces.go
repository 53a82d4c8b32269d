package database

import (
	"context"
	"errors"
	"time"

	"whiteboard-relay/internal/models"
)

var (
	ErrRoomNotFound = errors.New("database: room not found")
	ErrRoomExists   = errors.New("database: room already exists")
	ErrRoomOccupied = errors.New("database: room still has participants")
)

type LookupStatus int

const (
	RoomMissing LookupStatus = iota
	RoomFound
)

// RoomLookup is the tagged result of GetRoom. Room is only meaningful when
// Status is RoomFound.
type RoomLookup struct {
	Status LookupStatus
	Room   models.Room
}

func Found(room models.Room) RoomLookup {
	return RoomLookup{Status: RoomFound, Room: room}
}

func NotFound() RoomLookup {
	return RoomLookup{Status: RoomMissing}
}

type RoomRepository interface {
	GetRoom(ctx context.Context, roomID string) (RoomLookup, error)
	// CreateRoom inserts the room with a count of 1, or returns ErrRoomExists.
	CreateRoom(ctx context.Context, roomID, createdBy string, createdAt time.Time) error
	// IncrementCount and DecrementCount return ErrRoomNotFound for an absent
	// room and never recreate it.
	IncrementCount(ctx context.Context, roomID string) error
	DecrementCount(ctx context.Context, roomID string) error
	// DeleteRoom removes the room record together with its log and presence
	// set, but only while its count is <= 0; otherwise it returns
	// ErrRoomOccupied. Deleting an absent room is a no-op. The count check and
	// the delete are atomic with respect to other processes on the same store.
	DeleteRoom(ctx context.Context, roomID string) error
}

type DrawingRepository interface {
	AppendLogEntry(ctx context.Context, roomID string, op models.DrawingOp) error
	ReadLogOrdered(ctx context.Context, roomID string) ([]models.DrawingOp, error)
	// ReplaceLog deletes every entry then re-inserts ops in order.
	ReplaceLog(ctx context.Context, roomID string, ops []models.DrawingOp) error
	ClearLog(ctx context.Context, roomID string) error
}

type PresenceRepository interface {
	UpsertPresence(ctx context.Context, roomID string, p models.Presence) error
	DeletePresence(ctx context.Context, roomID, subjectID string) error
	ListPresence(ctx context.Context, roomID string) ([]models.Presence, error)
}

type Store interface {
	RoomRepository
	DrawingRepository
	PresenceRepository
	Close() error
}
