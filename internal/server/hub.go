package server

import (
	"log"
	"sort"
	"sync"
)

// Hub tracks live connections by room. Every connection for a session sits
// in the session-wide room (keyed by the bare code); each student also
// sits in their group room ("code-group"). Broadcasts are fire-and-forget:
// a client whose send buffer is full misses the message rather than
// stalling the sender.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client
	clients map[string]*Client
	joinSeq uint64
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		clients: make(map[string]*Client),
	}
}

// Add registers a joined client in its rooms.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.joinSeq++
	c.joinSeq = h.joinSeq
	h.clients[c.id] = c
	for _, room := range c.roomKeys() {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[string]*Client)
		}
		h.rooms[room][c.id] = c
	}
}

// Remove drops a client from every room. Safe to call for clients that
// never joined.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.id)
	for _, room := range c.roomKeys() {
		if members, ok := h.rooms[room]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// Publish fans an event out to every member of room.
func (h *Hub) Publish(room, event string, payload any) {
	h.publish(room, event, payload, "")
}

// PublishExcept fans out to the room skipping one connection, used for
// presence notices the triggering client does not need.
func (h *Hub) PublishExcept(room, exceptID, event string, payload any) {
	h.publish(room, event, payload, exceptID)
}

func (h *Hub) publish(room, event string, payload any, exceptID string) {
	msg, err := newMessage(event, payload)
	if err != nil {
		log.Printf("event marshal error: event=%s err=%v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[room] {
		if id == exceptID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, client misses this one
		}
	}
}

// GroupNumbers lists the group numbers of a session with at least one
// connected student, ascending.
func (h *Hub) GroupNumbers(code string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int]bool)
	for _, c := range h.rooms[code] {
		if !c.admin {
			seen[c.group] = true
		}
	}
	numbers := make([]int, 0, len(seen))
	for n := range seen {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// GroupMembers lists a group's connection ids in join order, which fixes
// the byte order of a drained audio blob.
func (h *Hub) GroupMembers(code string, number int) []string {
	h.mu.RLock()
	members := make([]*Client, 0, 4)
	for _, c := range h.rooms[groupRoom(code, number)] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].joinSeq < members[j].joinSeq
	})
	ids := make([]string, len(members))
	for i, c := range members {
		ids[i] = c.id
	}
	return ids
}

// RoomSize reports the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
