package objectstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const objectsBucket = "objects"

var (
	ErrInvalidKey = errors.New("invalid object key")
	ErrNotFound   = errors.New("object not found")
	ErrExists     = errors.New("object already exists")
)

// Object describes one stored blob.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Owner       string    `json:"owner"`
	ShareKey    string    `json:"share_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// objectEntry keeps the on-disk path private to the store.
type objectEntry struct {
	Object
	Path string `json:"path"`
}

// Store persists blobs on disk and records their metadata in BoltDB.
type Store struct {
	db  *bbolt.DB
	dir string
}

func Open(dbPath, dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(objectsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dir: dir}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CleanKey normalizes an object key like "images/uid-1700000000000-cat.jpg".
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" || len(key) > 512 || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// Put stores src under key. Keys are write-once so resolved URLs stay valid;
// a second Put on the same key returns ErrExists.
func (s *Store) Put(key, contentType, owner string, src io.Reader) (Object, error) {
	if s == nil || s.db == nil {
		return Object{}, fmt.Errorf("object store not initialized")
	}
	key, err := CleanKey(key)
	if err != nil {
		return Object{}, err
	}
	blob := filepath.Join(s.dir, randomHex(16))
	dst, err := os.Create(blob)
	if err != nil {
		return Object{}, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(blob)
		return Object{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	entry := objectEntry{
		Object: Object{
			Key:         key,
			Size:        size,
			ContentType: contentType,
			Owner:       owner,
			ShareKey:    randomHex(12),
			CreatedAt:   time.Now().UTC(),
		},
		Path: blob,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		_ = os.Remove(blob)
		return Object{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(objectsBucket))
		if bucket.Get([]byte(key)) != nil {
			return ErrExists
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		_ = os.Remove(blob)
		return Object{}, err
	}
	return entry.Object, nil
}

func (s *Store) get(key string) (*objectEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("object store not initialized")
	}
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	var result *objectEntry
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(objectsBucket)).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		var entry objectEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		result = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stat returns the metadata stored for key.
func (s *Store) Stat(key string) (Object, error) {
	entry, err := s.get(key)
	if err != nil {
		return Object{}, err
	}
	return entry.Object, nil
}

// Open returns the metadata and content for key. The caller closes the file.
func (s *Store) Open(key string) (Object, *os.File, error) {
	entry, err := s.get(key)
	if err != nil {
		return Object{}, nil, err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return Object{}, nil, err
	}
	return entry.Object, f, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
