package objectstore

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"chat-app/internal/authserver"
	"chat-app/internal/authutil"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(openTestStore(t), "")
	r := chi.NewRouter()
	srv.Mount(r, authserver.New(nil).Authenticated())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return srv, ts
}

func authed(t *testing.T, method, url, uid string, body io.Reader) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, url, body)
	token, _ := authutil.IssueToken(uid)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "image/png")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestUploadResolveDownload(t *testing.T) {
	srv, ts := newTestServer(t)
	key := "images/anon_a-1700000000000-cat.png"
	resp := authed(t, http.MethodPut, ts.URL+"/storage/"+key, "anon_a", strings.NewReader("png-bytes"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	resp = authed(t, http.MethodGet, ts.URL+"/storage-url/"+key, "anon_a", nil)
	var payload struct {
		URL string `json:"url"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	resp.Body.Close()
	if !strings.HasPrefix(payload.URL, ts.URL+"/storage/"+key+"?key=") {
		t.Fatalf("unexpected url %q", payload.URL)
	}

	dl, err := http.Get(payload.URL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || string(data) != "png-bytes" || dl.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected download %d %q %q", dl.StatusCode, data, dl.Header.Get("Content-Type"))
	}
	if srv.Uploads() != 1 || srv.Downloads() != 1 {
		t.Fatalf("unexpected counters %d/%d", srv.Uploads(), srv.Downloads())
	}
}

func TestUploadRejectsForeignKey(t *testing.T) {
	_, ts := newTestServer(t)
	resp := authed(t, http.MethodPut, ts.URL+"/storage/images/anon_b-1-cat.png", "anon_a", strings.NewReader("x"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestUploadConflictOnExistingKey(t *testing.T) {
	srv, ts := newTestServer(t)
	key := "images/anon_a-1700000000000-cat.png"
	resp := authed(t, http.MethodPut, ts.URL+"/storage/"+key, "anon_a", strings.NewReader("first"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	resp = authed(t, http.MethodPut, ts.URL+"/storage/"+key, "anon_a", strings.NewReader("second"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if srv.Uploads() != 1 {
		t.Fatalf("expected one counted upload, got %d", srv.Uploads())
	}
}

func TestDownloadRequiresShareKey(t *testing.T) {
	_, ts := newTestServer(t)
	key := "audio/anon_a-5-a.m4a"
	resp := authed(t, http.MethodPut, ts.URL+"/storage/"+key, "anon_a", strings.NewReader("aac"))
	resp.Body.Close()
	dl, err := http.Get(ts.URL + "/storage/" + key + "?key=wrong")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	dl.Body.Close()
	if dl.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", dl.StatusCode)
	}
}

func TestResolveMissing(t *testing.T) {
	_, ts := newTestServer(t)
	resp := authed(t, http.MethodGet, ts.URL+"/storage-url/images/anon_a-1-none.png", "anon_a", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
