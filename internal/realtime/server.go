package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chat-app/internal/authserver"
	"chat-app/internal/message"
)

const (
	maxMessageBytes = 64 << 10
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
)

// Server exposes room collections over HTTP (append) and WebSocket (live
// snapshots).
type Server struct {
	collections *Collections
	hub         *Hub
	upgrader    websocket.Upgrader

	// roomMu orders append, snapshot and publish per room so the last
	// snapshot a subscriber receives is never older than the collection.
	roomMu sync.Mutex
	rooms  map[string]*sync.Mutex

	appends     atomic.Int64
	liveStreams atomic.Int64
}

func NewServer(collections *Collections, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		collections: collections,
		hub:         hub,
		rooms:       make(map[string]*sync.Mutex),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Appends returns the number of stored messages since start.
func (s *Server) Appends() int64 { return s.appends.Load() }

// LiveStreams returns the number of open live subscriptions.
func (s *Server) LiveStreams() int64 { return s.liveStreams.Load() }

// Mount registers the room routes on r behind auth.
func (s *Server) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/rooms/{room}/messages", s.handleAppend)
		r.Get("/rooms/{room}/messages", s.handleSnapshot)
		r.Get("/rooms/{room}/live", s.handleLive)
	})
}

func (s *Server) roomLock(room string) *sync.Mutex {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	mu, ok := s.rooms[room]
	if !ok {
		mu = &sync.Mutex{}
		s.rooms[room] = mu
	}
	return mu
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("json write: %v", err)
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	uid := authserver.UserFromContext(r.Context())
	var msg message.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	if msg.Author.ID != uid {
		http.Error(w, "author does not match token", http.StatusForbidden)
		return
	}
	lock := s.roomLock(room)
	lock.Lock()
	stored, err := s.collections.Append(room, msg)
	if err == nil {
		s.appends.Add(1)
		s.broadcast(room)
	}
	lock.Unlock()
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidRoom),
			errors.Is(err, message.ErrEmpty),
			errors.Is(err, message.ErrMultipleAttachment),
			errors.Is(err, message.ErrMissingAuthor):
			status = http.StatusBadRequest
		default:
			log.Printf("append room=%s: %v", room, err)
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collections.Snapshot(chi.URLParam(r, "room"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidRoom) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// broadcast publishes the current snapshot of room; callers hold its lock.
func (s *Server) broadcast(room string) {
	snap, err := s.collections.Snapshot(room)
	if err != nil {
		log.Printf("snapshot room=%s: %v", room, err)
		return
	}
	s.hub.Publish(snap)
}

// handleLive streams the current snapshot and then one full snapshot per
// change until the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if !validRoom(room) {
		http.Error(w, ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live upgrade: %v", err)
		return
	}
	sub := s.hub.Subscribe(room)
	s.liveStreams.Add(1)
	defer func() {
		s.hub.Unsubscribe(sub)
		s.liveStreams.Add(-1)
		_ = conn.Close()
	}()

	lock := s.roomLock(room)
	lock.Lock()
	initial, err := s.collections.Snapshot(room)
	if err == nil {
		// Drop anything published before the initial snapshot was read.
		select {
		case <-sub.ch:
		default:
		}
	}
	lock.Unlock()
	if err != nil {
		log.Printf("live snapshot room=%s: %v", room, err)
		return
	}
	if err := s.send(conn, initial); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.send(conn, snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, snap message.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snap); err != nil {
		log.Printf("live send room=%s: %v", snap.Room, err)
		return err
	}
	return nil
}
