package backendclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-app/internal/backend"
	"chat-app/internal/chaterr"
	"chat-app/internal/message"
	"chat-app/internal/storage"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := backend.New(backend.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func openCache(t *testing.T) *storage.Cache {
	t.Helper()
	c, err := storage.OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSignInPersistsAndResumesIdentity(t *testing.T) {
	ts := newBackend(t)
	cache := openCache(t)

	first, err := New(ts.URL, cache).SignInAnonymously(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "anon_"))

	second, err := New(ts.URL, cache).SignInAnonymously(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := New(ts.URL, nil).SignInAnonymously(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestSignInFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	_, err := New(ts.URL, nil).SignInAnonymously(context.Background())
	require.Error(t, err)
}

func TestCallsRequireSignIn(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	_, err := c.Subscribe(context.Background(), "messages")
	require.ErrorIs(t, err, ErrNotSignedIn)
	err = c.Append(context.Background(), "messages", message.Message{})
	require.ErrorIs(t, err, ErrNotSignedIn)
	err = c.Upload(context.Background(), "images/x", "image/png", strings.NewReader(""))
	require.ErrorIs(t, err, chaterr.ErrStorageUnauthorized)
}

func TestSubscribeReceivesSnapshotsAfterAppend(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, nil)
	uid, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)

	sub, err := c.Subscribe(context.Background(), "messages")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case snap := <-sub.Snapshots():
		require.Empty(t, snap.Messages)
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}

	require.NoError(t, c.Append(context.Background(), "messages", message.Message{Text: "hi", Author: message.Author{ID: uid, Name: "Ana"}}))
	select {
	case snap := <-sub.Snapshots():
		require.Len(t, snap.Messages, 1)
		require.Equal(t, "hi", snap.Messages[0].Text)
		require.NotEmpty(t, snap.Messages[0].ID)
		require.False(t, snap.Messages[0].CreatedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot after append")
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.Snapshots()
	require.False(t, open)
}

func TestAppendRejectedForForeignAuthor(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, nil)
	_, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)
	err = c.Append(context.Background(), "messages", message.Message{Text: "hi", Author: message.Author{ID: "anon_someone"}})
	require.Error(t, err)
}

func TestUploadAndResolve(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, nil)
	uid, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)

	key := "images/" + uid + "-1700000000000-my cat.jpg"
	require.NoError(t, c.Upload(context.Background(), key, "image/jpeg", strings.NewReader("jpeg")))
	link, err := c.DownloadURL(context.Background(), key)
	require.NoError(t, err)

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "jpeg", string(data))
}

func TestUploadForeignKeyIsUnauthorized(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, nil)
	_, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)
	err = c.Upload(context.Background(), "images/anon_other-1-x.jpg", "image/jpeg", strings.NewReader("x"))
	require.True(t, errors.Is(err, chaterr.ErrStorageUnauthorized), "got %v", err)
}

func TestUploadServerErrorIsUnknown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/anonymous" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"uid":"anon_a","token":"t"}`))
			return
		}
		http.Error(w, "disk", http.StatusInternalServerError)
	}))
	defer ts.Close()
	c := New(ts.URL, nil)
	_, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)
	err = c.Upload(context.Background(), "images/anon_a-1-x.jpg", "image/jpeg", strings.NewReader("x"))
	require.ErrorIs(t, err, chaterr.ErrStorageUnknown)
}
