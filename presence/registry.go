// Package presence tracks who is connected to which room. State lives only
// in memory and is rebuilt from live reconnections after a restart.
package presence

import "sync"

type participant struct {
	connID string
	name   string
}

// Registry maps a room id to its participants in join order.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]participant
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]participant),
	}
}

// Join adds connID to roomID under displayName. A connection that is already
// present keeps its position and only has its display name replaced.
// It returns the room's display names in join order.
func (r *Registry) Join(roomID, connID, displayName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	for i := range members {
		if members[i].connID == connID {
			members[i].name = displayName
			return names(members)
		}
	}

	members = append(members, participant{connID: connID, name: displayName})
	r.rooms[roomID] = members
	return names(members)
}

// Leave removes connID from roomID and evicts the room once it is empty.
// It returns the remaining display names, empty when the room is unknown.
func (r *Registry) Leave(roomID, connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}

	for i := range members {
		if members[i].connID == connID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}

	if len(members) == 0 {
		delete(r.rooms, roomID)
		return []string{}
	}
	r.rooms[roomID] = members
	return names(members)
}

// MembersOf returns a snapshot of the room's display names in join order.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return names(r.rooms[roomID])
}

// Rooms returns the number of connected participants per occupied room.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for id, members := range r.rooms {
		rooms[id] = len(members)
	}
	return rooms
}

func names(members []participant) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.name
	}
	return out
}
