package objectstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "objects.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndOpen(t *testing.T) {
	s := openTestStore(t)
	obj, err := s.Put("images/u1-1-cat.jpg", "image/jpeg", "u1", strings.NewReader("jpegdata"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != 8 || obj.ShareKey == "" || obj.Owner != "u1" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	got, f, err := s.Open("images/u1-1-cat.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "jpegdata" || got.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content %q %+v", data, got)
	}
}

func TestPutRejectsExistingKey(t *testing.T) {
	s := openTestStore(t)
	first, err := s.Put("audio/u1-1-a.m4a", "", "u1", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if first.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected object: %+v", first)
	}
	if _, err := s.Put("audio/u1-1-a.m4a", "", "u1", strings.NewReader("two!")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, f, err := s.Open("audio/u1-1-a.m4a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "one" || got.ShareKey != first.ShareKey {
		t.Fatalf("existing object changed: %q %+v", data, got)
	}
	blobs, _ := os.ReadDir(s.dir)
	if len(blobs) != 1 {
		t.Fatalf("expected rejected blob removed, got %d files", len(blobs))
	}
}

func TestCleanKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "../etc/passwd", "images/../../x", "a\\b", "images//x"} {
		if _, err := CleanKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
	if got, err := CleanKey("/images/u1-2-x.png"); err != nil || got != "images/u1-2-x.png" {
		t.Fatalf("unexpected clean result %q %v", got, err)
	}
}

func TestStatMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Stat("images/nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
