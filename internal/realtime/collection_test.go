package realtime

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chat-app/internal/message"
)

func openTestCollections(t *testing.T) *Collections {
	t.Helper()
	c, err := OpenCollections(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open collections: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSnapshotNewestFirst(t *testing.T) {
	c := openTestCollections(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for _, text := range []string{"first", "second", "third"} {
		if _, err := c.Append("messages", message.Message{Text: text, Author: message.Author{ID: "u1", Name: "Ana"}}); err != nil {
			t.Fatalf("append %s: %v", text, err)
		}
	}
	snap, err := c.Snapshot("messages")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Text != "third" || snap.Messages[2].Text != "first" {
		t.Fatalf("unexpected order: %+v", snap.Messages)
	}
	if snap.Messages[0].ID == "" || snap.Messages[0].ID == snap.Messages[1].ID {
		t.Fatalf("expected unique server ids")
	}
}

func TestAppendAssignsServerFields(t *testing.T) {
	c := openTestCollections(t)
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	stored, err := c.Append("messages", message.Message{
		ID:        "client-id",
		Text:      "hi",
		CreatedAt: time.Unix(0, 0),
		Author:    message.Author{ID: "u1"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID == "client-id" || !stored.CreatedAt.Equal(fixed) {
		t.Fatalf("server fields not assigned: %+v", stored)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	c := openTestCollections(t)
	if _, err := c.Append("a/b", message.Message{Text: "x", Author: message.Author{ID: "u1"}}); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
	_, err := c.Append("messages", message.Message{Author: message.Author{ID: "u1"}, Image: "i", Audio: "a"})
	if !errors.Is(err, message.ErrMultipleAttachment) {
		t.Fatalf("expected ErrMultipleAttachment, got %v", err)
	}
}

func TestSnapshotEmptyRoom(t *testing.T) {
	c := openTestCollections(t)
	snap, err := c.Snapshot("nobody-here")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Messages == nil || len(snap.Messages) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", snap.Messages)
	}
}

func TestNilCollectionsSafe(t *testing.T) {
	var c *Collections
	if err := c.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
	if err := c.Ping(); err == nil {
		t.Fatalf("expected ping error on nil collections")
	}
}
