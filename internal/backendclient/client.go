// Package backendclient talks to the chat backend over HTTP and WebSocket.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-app/internal/chaterr"
	"chat-app/internal/conversation"
	"chat-app/internal/message"
	"chat-app/internal/storage"
)

// CredentialStore persists the anonymous identity between launches.
type CredentialStore interface {
	LoadCredential() (storage.Credential, bool, error)
	SaveCredential(storage.Credential) error
}

var ErrNotSignedIn = errors.New("backendclient: not signed in")

type Client struct {
	base   string
	http   *http.Client
	dialer *websocket.Dialer
	creds  CredentialStore

	mu    sync.Mutex
	uid   string
	token string
}

// New returns a client for baseURL. creds may be nil, in which case every
// launch receives a new identity.
func New(baseURL string, creds CredentialStore) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		creds:  creds,
	}
}

// HealthURL is the endpoint probed for connectivity.
func (c *Client) HealthURL() string {
	return c.base + "/healthz"
}

func (c *Client) credentials() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid, c.token
}

type signInResponse struct {
	UID     string `json:"uid"`
	Token   string `json:"token"`
	Resumed bool   `json:"resumed"`
}

// SignInAnonymously signs in, presenting the saved credential so the backend
// can keep the same user id.
func (c *Client) SignInAnonymously(ctx context.Context) (string, error) {
	_, previous := c.credentials()
	if previous == "" && c.creds != nil {
		saved, ok, err := c.creds.LoadCredential()
		if err != nil {
			log.Printf("backendclient: load credential: %v", err)
		} else if ok {
			previous = saved.Token
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/anonymous", nil)
	if err != nil {
		return "", err
	}
	if previous != "" {
		req.Header.Set("Authorization", "Bearer "+previous)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backendclient: sign in: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backendclient: sign in: %s", statusText(resp))
	}
	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("backendclient: sign in: decode: %w", err)
	}
	if out.UID == "" || out.Token == "" {
		return "", errors.New("backendclient: sign in: empty credentials")
	}
	c.mu.Lock()
	c.uid, c.token = out.UID, out.Token
	c.mu.Unlock()
	if c.creds != nil {
		if err := c.creds.SaveCredential(storage.Credential{UID: out.UID, Token: out.Token}); err != nil {
			log.Printf("backendclient: save credential: %v", err)
		}
	}
	return out.UID, nil
}

func statusText(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return resp.Status
	}
	return resp.Status + ": " + msg
}

func (c *Client) authed(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	_, token := c.credentials()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// Append stores msg in room.
func (c *Client) Append(ctx context.Context, room string, msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := c.authed(ctx, http.MethodPost, "/rooms/"+url.PathEscape(room)+"/messages", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backendclient: append: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("backendclient: append: %s", statusText(resp))
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Upload stores body under key. Failures wrap the chaterr storage kinds.
func (c *Client) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	req, err := c.authed(ctx, http.MethodPut, "/storage/"+escapeKey(key), body)
	if err != nil {
		return fmt.Errorf("%w: %v", chaterr.ErrStorageUnauthorized, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", chaterr.ErrStorageCanceled, err)
		}
		return fmt.Errorf("backendclient: upload: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", chaterr.ErrStorageUnauthorized, statusText(resp))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", chaterr.ErrStorageUnknown, statusText(resp))
	}
	return fmt.Errorf("backendclient: upload: %s", statusText(resp))
}

// DownloadURL resolves key to a durable retrieval URL.
func (c *Client) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := c.authed(ctx, http.MethodGet, "/storage-url/"+escapeKey(key), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backendclient: resolve: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backendclient: resolve: %s", statusText(resp))
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("backendclient: resolve: decode: %w", err)
	}
	return out.URL, nil
}

// Subscribe opens the live snapshot stream for room. ctx bounds the
// handshake only; Close ends the stream.
func (c *Client) Subscribe(ctx context.Context, room string) (conversation.Subscription, error) {
	_, token := c.credentials()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	u, err := url.Parse(c.base + "/rooms/" + url.PathEscape(room) + "/live")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("backendclient: subscribe: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("backendclient: subscribe: %w", err)
	}
	sub := &liveSubscription{
		conn: conn,
		ch:   make(chan message.Snapshot, 1),
		done: make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

type liveSubscription struct {
	conn *websocket.Conn
	ch   chan message.Snapshot
	done chan struct{}
	once sync.Once
}

func (s *liveSubscription) Snapshots() <-chan message.Snapshot { return s.ch }

// readLoop keeps only the newest unread snapshot; each one is complete.
func (s *liveSubscription) readLoop() {
	defer close(s.done)
	defer close(s.ch)
	for {
		var snap message.Snapshot
		if err := s.conn.ReadJSON(&snap); err != nil {
			return
		}
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

func (s *liveSubscription) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
