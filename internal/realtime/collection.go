package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"chat-app/internal/message"
)

const roomsBucket = "rooms"

var ErrInvalidRoom = errors.New("invalid room key")

// Collections persists room message collections in BoltDB. Each room is a
// nested bucket whose keys sort by createdAt, so a reverse cursor walk yields
// the newest-first snapshot.
type Collections struct {
	db  *bbolt.DB
	now func() time.Time
}

func OpenCollections(path string) (*Collections, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(roomsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Collections{db: db, now: time.Now}, nil
}

func (c *Collections) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping reports whether the underlying database is usable.
func (c *Collections) Ping() error {
	if c == nil || c.db == nil {
		return errors.New("collections not initialized")
	}
	return c.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(roomsBucket)) == nil {
			return errors.New("missing rooms bucket")
		}
		return nil
	})
}

func validRoom(room string) bool {
	room = strings.TrimSpace(room)
	return room != "" && len(room) <= 128 && !strings.ContainsAny(room, "/\\")
}

func docKey(msg message.Message) []byte {
	return []byte(fmt.Sprintf("%020d-%s", msg.CreatedAt.UnixNano(), msg.ID))
}

// Append assigns the document id and server timestamp, validates and
// stores msg, and returns the stored document.
func (c *Collections) Append(room string, msg message.Message) (message.Message, error) {
	if c == nil || c.db == nil {
		return message.Message{}, errors.New("collections not initialized")
	}
	if !validRoom(room) {
		return message.Message{}, ErrInvalidRoom
	}
	if err := msg.Validate(); err != nil {
		return message.Message{}, err
	}
	msg.ID = uuid.New().String()
	msg.CreatedAt = c.now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return message.Message{}, err
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(roomsBucket)).CreateBucketIfNotExists([]byte(room))
		if err != nil {
			return err
		}
		return bucket.Put(docKey(msg), data)
	})
	if err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// Snapshot returns every message in room ordered by createdAt descending.
func (c *Collections) Snapshot(room string) (message.Snapshot, error) {
	snap := message.Snapshot{Room: room, Messages: []message.Message{}}
	if c == nil || c.db == nil {
		return snap, errors.New("collections not initialized")
	}
	if !validRoom(room) {
		return snap, ErrInvalidRoom
	}
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(roomsBucket)).Bucket([]byte(room))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var msg message.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			snap.Messages = append(snap.Messages, msg)
		}
		return nil
	})
	return snap, err
}
