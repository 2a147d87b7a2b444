package realtime

import (
	"sync"

	"chat-app/internal/message"
)

// Subscriber receives full snapshots for one room. The channel holds at most
// one pending snapshot; a newer snapshot replaces an unread one because each
// snapshot is complete.
type Subscriber struct {
	room string
	ch   chan message.Snapshot
}

func (s *Subscriber) C() <-chan message.Snapshot { return s.ch }

// Hub fans snapshots out to the live subscribers of each room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(room string) *Subscriber {
	sub := &Subscriber{room: room, ch: make(chan message.Snapshot, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.rooms[room] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[sub.room]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.rooms, sub.room)
	}
}

// Publish delivers snap to every subscriber of snap.Room without blocking.
func (h *Hub) Publish(snap message.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[snap.Room] {
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

// Count returns the number of live subscribers for room.
func (h *Hub) Count(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
