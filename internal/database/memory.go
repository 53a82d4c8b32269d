package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"whiteboard-relay/internal/models"
)

var ErrInjected = errors.New("database: injected failure")

type memoryRoom struct {
	room     models.Room
	drawings []models.DrawingOp
	users    map[string]models.Presence
}

// MemoryStore is an in-process Store used by tests and by single-node
// development runs (STORE_DRIVER=memory).
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*memoryRoom
	failures map[string]int
	calls    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*memoryRoom),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of the named operation return ErrInjected.
func (m *MemoryStore) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] += n
}

// Calls reports how many times the named operation was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter must be called with mu held.
func (m *MemoryStore) enter(op string) error {
	m.calls[op]++
	if m.failures[op] > 0 {
		m.failures[op]--
		return ErrInjected
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, roomID string) (RoomLookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRoom"); err != nil {
		return NotFound(), err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return NotFound(), nil
	}
	return Found(r.room), nil
}

func (m *MemoryStore) CreateRoom(ctx context.Context, roomID, createdBy string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateRoom"); err != nil {
		return err
	}

	if _, ok := m.rooms[roomID]; ok {
		return ErrRoomExists
	}
	m.rooms[roomID] = &memoryRoom{
		room:  models.Room{ID: roomID, CreatedAt: createdAt, CreatedBy: createdBy, UserCount: 1},
		users: make(map[string]models.Presence),
	}
	return nil
}

func (m *MemoryStore) IncrementCount(ctx context.Context, roomID string) error {
	return m.adjustCount("IncrementCount", roomID, 1)
}

func (m *MemoryStore) DecrementCount(ctx context.Context, roomID string) error {
	return m.adjustCount("DecrementCount", roomID, -1)
}

func (m *MemoryStore) adjustCount(op, roomID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(op); err != nil {
		return err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.room.UserCount += delta
	return nil
}

func (m *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteRoom"); err != nil {
		return err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	if r.room.UserCount > 0 {
		return ErrRoomOccupied
	}
	delete(m.rooms, roomID)
	return nil
}

func (m *MemoryStore) AppendLogEntry(ctx context.Context, roomID string, op models.DrawingOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AppendLogEntry"); err != nil {
		return err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.drawings = append(r.drawings, op)
	return nil
}

func (m *MemoryStore) ReadLogOrdered(ctx context.Context, roomID string) ([]models.DrawingOp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReadLogOrdered"); err != nil {
		return nil, err
	}

	ops := make([]models.DrawingOp, 0)
	if r, ok := m.rooms[roomID]; ok {
		ops = append(ops, r.drawings...)
	}
	return ops, nil
}

func (m *MemoryStore) ReplaceLog(ctx context.Context, roomID string, ops []models.DrawingOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReplaceLog"); err != nil {
		return err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.drawings = append([]models.DrawingOp(nil), ops...)
	return nil
}

func (m *MemoryStore) ClearLog(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearLog"); err != nil {
		return err
	}

	if r, ok := m.rooms[roomID]; ok {
		r.drawings = nil
	}
	return nil
}

func (m *MemoryStore) UpsertPresence(ctx context.Context, roomID string, p models.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertPresence"); err != nil {
		return err
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.users[p.SubjectID] = p
	return nil
}

func (m *MemoryStore) DeletePresence(ctx context.Context, roomID, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeletePresence"); err != nil {
		return err
	}

	if r, ok := m.rooms[roomID]; ok {
		delete(r.users, subjectID)
	}
	return nil
}

func (m *MemoryStore) ListPresence(ctx context.Context, roomID string) ([]models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListPresence"); err != nil {
		return nil, err
	}

	users := make([]models.Presence, 0)
	if r, ok := m.rooms[roomID]; ok {
		for _, p := range r.users {
			users = append(users, p)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}
