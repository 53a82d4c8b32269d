package websocket

import "sync"

// Registry routes live events: room id -> connections currently joined.
// It holds no durable state and starts empty on every process start.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]*Client)}
}

func (r *Registry) AddMember(roomID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
	}
	members[client.ID()] = client
}

// RemoveMember reports whether the connection was a member.
func (r *Registry) RemoveMember(roomID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connectionID]; !ok {
		return false
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// MembersOf returns a copy, so callers may iterate while members leave.
func (r *Registry) MembersOf(roomID string) []*Client {
	return r.MembersExcept(roomID, "")
}

func (r *Registry) MembersExcept(roomID, connectionID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for id, client := range members {
		if id != connectionID {
			out = append(out, client)
		}
	}
	return out
}

func (r *Registry) IsMember(roomID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connectionID]
	return ok
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return total
}
