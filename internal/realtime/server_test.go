package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chat-app/internal/authserver"
	"chat-app/internal/authutil"
	"chat-app/internal/message"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	rt := NewServer(openTestCollections(t), NewHub())
	r := chi.NewRouter()
	rt.Mount(r, authserver.New(nil).Authenticated())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return rt, ts
}

func postMessage(t *testing.T, base, token string, msg message.Message) *http.Response {
	t.Helper()
	body, _ := json.Marshal(msg)
	req, _ := http.NewRequest(http.MethodPost, base+"/rooms/messages/messages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestAppendRejectsForeignAuthor(t *testing.T) {
	_, ts := newTestServer(t)
	token, _ := authutil.IssueToken("anon_me")
	resp := postMessage(t, ts.URL, token, message.Message{Text: "hi", Author: message.Author{ID: "anon_other"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAppendRequiresToken(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postMessage(t, ts.URL, "garbage", message.Message{Text: "hi", Author: message.Author{ID: "anon_me"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLiveStreamsSnapshots(t *testing.T) {
	rt, ts := newTestServer(t)
	token, _ := authutil.IssueToken("anon_me")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/messages/live?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first message.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if len(first.Messages) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", first)
	}

	resp := postMessage(t, ts.URL, token, message.Message{Text: "hi", Author: message.Author{ID: "anon_me", Name: "Ana"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var next message.Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if len(next.Messages) != 1 || next.Messages[0].Text != "hi" || next.Messages[0].Author.Name != "Ana" {
		t.Fatalf("unexpected snapshot: %+v", next)
	}
	if rt.Appends() != 1 {
		t.Fatalf("expected 1 append, got %d", rt.Appends())
	}
}

func TestConcurrentAppendsPublishFullestSnapshotLast(t *testing.T) {
	rt, ts := newTestServer(t)
	sub := rt.hub.Subscribe("messages")
	defer rt.hub.Unsubscribe(sub)
	token, _ := authutil.IssueToken("anon_me")

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := postMessage(t, ts.URL, token, message.Message{Text: fmt.Sprintf("m%d", i), Author: message.Author{ID: "anon_me"}})
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("expected 201, got %d", resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	select {
	case snap := <-sub.C():
		if len(snap.Messages) != writers {
			t.Fatalf("last published snapshot has %d messages, want %d", len(snap.Messages), writers)
		}
	default:
		t.Fatalf("expected a pending snapshot")
	}
}
