package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"chat-app/internal/message"
)

const (
	snapshotsBucket   = "snapshots"
	credentialsBucket = "credentials"
	anonymousKey      = "anonymous"
)

var ErrClosed = errors.New("storage: cache not open")

// Cache is the local durable store: whole message lists per room key and the
// persisted anonymous credential. Every snapshot write replaces the previous
// blob for its key.
type Cache struct {
	db *bbolt.DB
}

func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{snapshotsBucket, credentialsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Write serializes msgs and stores it under key.
func (c *Cache) Write(key string, msgs []message.Message) error {
	if c == nil || c.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(message.Clone(msgs))
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotsBucket)).Put([]byte(key), data)
	})
}

// Read returns the list stored under key. ok is false when nothing was ever
// written for key.
func (c *Cache) Read(key string) (msgs []message.Message, ok bool, err error) {
	if c == nil || c.db == nil {
		return nil, false, ErrClosed
	}
	var data []byte
	err = c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(snapshotsBucket)).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return message.Clone(msgs), true, nil
}

// Credential is the anonymous identity kept across launches.
type Credential struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

func (c *Cache) SaveCredential(cred Credential) error {
	if c == nil || c.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Put([]byte(anonymousKey), data)
	})
}

// LoadCredential returns the saved credential, or ok=false when none exists.
func (c *Cache) LoadCredential() (cred Credential, ok bool, err error) {
	if c == nil || c.db == nil {
		return Credential{}, false, nil
	}
	err = c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(credentialsBucket)).Get([]byte(anonymousKey))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &cred)
	})
	if err != nil {
		return Credential{}, false, err
	}
	return cred, ok, nil
}
