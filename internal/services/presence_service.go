package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"whiteboard-relay/internal/database"
	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"
)

type TeardownDecision int

const (
	// RoomRetained: other participants remain, or the outcome could not be
	// determined because the store failed.
	RoomRetained TeardownDecision = iota
	RoomDestroyed
	// RoomAbsent: the room record was already gone when the leave started.
	RoomAbsent
)

func (d TeardownDecision) String() string {
	switch d {
	case RoomDestroyed:
		return "destroyed"
	case RoomAbsent:
		return "absent"
	default:
		return "retained"
	}
}

// PresenceService owns room creation, the durable participant count and the
// presence set. Joins and leaves for the same room run one at a time.
type PresenceService struct {
	store database.Store
	locks *roomLocks
	now   func() time.Time
}

func NewPresenceService(store database.Store) *PresenceService {
	return &PresenceService{
		store: store,
		locks: newRoomLocks(),
		now:   time.Now,
	}
}

// Join registers one connection of identity in roomID and returns the room's
// history. counted reports whether the connection was added to the room's
// count; the matching Leave must pass it back. Store failures are logged and
// the caller still gets whatever could be read so the live channel keeps
// working.
func (s *PresenceService) Join(ctx context.Context, roomID string, identity models.Identity) (snapshot models.Snapshot, counted bool) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	log := logger.WithFields(map[string]interface{}{"room": roomID, "user": identity.SubjectID})

	if err := s.admit(ctx, roomID, identity.SubjectID); err != nil {
		log.Errorf("Error checking/creating/updating room: %v", err)
	} else {
		counted = true
	}

	presence := models.Presence{
		SubjectID: identity.SubjectID,
		Name:      identity.DisplayName,
		Color:     UserColor(identity.SubjectID),
		LastSeen:  s.now().UTC(),
	}
	if err := s.store.UpsertPresence(ctx, roomID, presence); err != nil {
		log.Errorf("Error writing presence: %v", err)
	}

	snapshot = models.Snapshot{Drawings: []models.DrawingOp{}, Presence: []models.Presence{}}
	drawings, err := s.store.ReadLogOrdered(ctx, roomID)
	if err != nil {
		log.Errorf("Error reading drawings: %v", err)
	} else {
		snapshot.Drawings = drawings
	}

	users, err := s.store.ListPresence(ctx, roomID)
	if err != nil {
		log.Errorf("Error listing presence: %v", err)
	} else {
		snapshot.Presence = users
	}

	log.Infof("Joined room (%d drawings, counted=%t)", len(snapshot.Drawings), counted)
	return snapshot, counted
}

// admit creates the room with a count of 1 or increments an existing count.
func (s *PresenceService) admit(ctx context.Context, roomID, subjectID string) error {
	lookup, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	switch lookup.Status {
	case database.RoomFound:
		err = s.store.IncrementCount(ctx, roomID)
		if errors.Is(err, database.ErrRoomNotFound) {
			// torn down by another node between the read and the increment
			err = s.store.CreateRoom(ctx, roomID, subjectID, s.now().UTC())
		}
		return err

	case database.RoomMissing:
		logger.Info("Room %s does not exist. Creating...", roomID)
		err = s.store.CreateRoom(ctx, roomID, subjectID, s.now().UTC())
		if errors.Is(err, database.ErrRoomExists) {
			// created by another node between the read and the insert
			err = s.store.IncrementCount(ctx, roomID)
		}
		return err
	}
	return nil
}

// Leave removes one connection of subjectID from roomID. The teardown
// decision is taken on a count re-read after the decrement has been applied.
// A connection whose join was never counted only drops its presence entry.
func (s *PresenceService) Leave(ctx context.Context, roomID, subjectID string, counted bool) TeardownDecision {
	unlock := s.locks.lock(roomID)
	defer unlock()

	log := logger.WithFields(map[string]interface{}{"room": roomID, "user": subjectID})

	if !counted {
		if err := s.store.DeletePresence(ctx, roomID, subjectID); err != nil {
			log.Errorf("Error deleting presence: %v", err)
		}
		log.Infof("Join was never counted. Leaving the count untouched.")
		return RoomRetained
	}

	lookup, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		log.Errorf("Error handling leave: %v", err)
		return RoomRetained
	}
	if lookup.Status == database.RoomMissing {
		log.Infof("Room document does not exist. It might have been deleted by another user.")
		return RoomAbsent
	}

	if err := s.store.DecrementCount(ctx, roomID); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			return RoomAbsent
		}
		log.Errorf("Error decrementing user count: %v", err)
		return RoomRetained
	}

	if err := s.store.DeletePresence(ctx, roomID, subjectID); err != nil {
		log.Errorf("Error deleting presence: %v", err)
	}

	lookup, err = s.store.GetRoom(ctx, roomID)
	if err != nil {
		log.Errorf("Error re-reading user count: %v", err)
		return RoomRetained
	}
	if lookup.Status == database.RoomMissing {
		return RoomAbsent
	}
	if lookup.Room.UserCount > 0 {
		log.Infof("Room still has active users (%d). Not deleting.", lookup.Room.UserCount)
		return RoomRetained
	}

	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, database.ErrRoomOccupied) {
			log.Infof("Room was rejoined before teardown. Not deleting.")
			return RoomRetained
		}
		// the record lingers as an orphan; the next join counts it back up
		log.Errorf("Error deleting empty room: %v", err)
		return RoomRetained
	}
	log.Infof("Room has no active users. Deleted.")
	return RoomDestroyed
}

// Presence lists the room's presence set.
func (s *PresenceService) Presence(ctx context.Context, roomID string) ([]models.Presence, error) {
	return s.store.ListPresence(ctx, roomID)
}

// Room returns the durable room record.
func (s *PresenceService) Room(ctx context.Context, roomID string) (database.RoomLookup, error) {
	return s.store.GetRoom(ctx, roomID)
}

// roomLocks hands out one mutex per room id and forgets it once no caller
// holds or waits on it.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
