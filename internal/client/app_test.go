package client

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-app/internal/backend"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := backend.New(backend.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, backendURL string) *Config {
	t.Helper()
	return &Config{
		BackendURL: backendURL,
		DataDir:    t.TempDir(),
		Room:       "messages",
		NoColor:    true,
		ProbeEvery: 50 * time.Millisecond,
	}
}

type runResult struct {
	err error
}

func startApp(t *testing.T, cfg *Config, in io.Reader, out io.Writer) (*App, <-chan runResult) {
	t.Helper()
	app, err := NewApp(cfg, in, out)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: app.Run(context.Background())}
	}()
	return app, done
}

func waitDone(t *testing.T, done <-chan runResult) {
	t.Helper()
	select {
	case res := <-done:
		require.NoError(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatalf("app did not exit")
	}
}

func TestAppSendsAndRendersMessage(t *testing.T) {
	ts := newBackend(t)
	cfg := testConfig(t, ts.URL)
	cfg.Name = "Ana"
	cfg.Color = "2"

	pr, pw := io.Pipe()
	out := &lockedBuffer{}
	_, done := startApp(t, cfg, pr, out)

	_, err := io.WriteString(pw, "hello there\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Ana: hello there")
	}, 5*time.Second, 20*time.Millisecond)

	_, err = io.WriteString(pw, "/quit\n")
	require.NoError(t, err)
	waitDone(t, done)

	text := out.String()
	require.Contains(t, text, "Signed in Successfully!")
	require.Contains(t, text, "== Ana (online) ==")
}

func TestAppRejectsEmptyNameThenSignsIn(t *testing.T) {
	ts := newBackend(t)
	cfg := testConfig(t, ts.URL)
	out := &lockedBuffer{}
	_, done := startApp(t, cfg, strings.NewReader("\n\nBo\n1\n/quit\n"), out)
	waitDone(t, done)

	text := out.String()
	require.Contains(t, text, "Please enter your name")
	require.Contains(t, text, "Signed in Successfully!")
	require.Contains(t, text, "== Bo (online) ==")
}

func TestAppSignInFailureShowsRetry(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	cfg := testConfig(t, url)
	cfg.Name = "Ana"
	out := &lockedBuffer{}
	_, done := startApp(t, cfg, strings.NewReader(""), out)
	waitDone(t, done)

	text := out.String()
	require.Contains(t, text, "Unable to sign in, try again later.")
	require.NotContains(t, text, "Signed in Successfully!")
}

func TestAppGoesOfflineWhenBackendDisappears(t *testing.T) {
	srv, err := backend.New(backend.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	ts := httptest.NewServer(srv.Handler())

	cfg := testConfig(t, ts.URL)
	cfg.Name = "Ana"
	pr, pw := io.Pipe()
	out := &lockedBuffer{}
	app, done := startApp(t, cfg, pr, out)

	_, err = io.WriteString(pw, "before the storm\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Ana: before the storm")
	}, 5*time.Second, 20*time.Millisecond)

	ts.CloseClientConnections()
	ts.Close()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "== Ana (offline) ==")
	}, 5*time.Second, 20*time.Millisecond)
	require.Contains(t, out.String(), "Connection Lost!")

	_, err = io.WriteString(pw, "into the void\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Messages can't be sent right now.")
	}, 5*time.Second, 20*time.Millisecond)

	cached, ok, err := app.Cache.Read(cfg.Room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 1)
	require.Equal(t, "before the storm", cached[0].Text)

	_, err = io.WriteString(pw, "/quit\n")
	require.NoError(t, err)
	waitDone(t, done)
}
