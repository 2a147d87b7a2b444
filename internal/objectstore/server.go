package objectstore

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"chat-app/internal/authserver"
)

const maxUploadBytes = 25 << 20

// Server exposes the blob store over HTTP.
type Server struct {
	store *Store
	// PublicURL is the externally reachable base used in resolved URLs. When
	// empty the request host is used.
	PublicURL string

	uploads   atomic.Int64
	downloads atomic.Int64
}

func NewServer(store *Store, publicURL string) *Server {
	return &Server{store: store, PublicURL: strings.TrimRight(publicURL, "/")}
}

func (s *Server) Uploads() int64   { return s.uploads.Load() }
func (s *Server) Downloads() int64 { return s.downloads.Load() }

// Mount registers upload and URL resolution behind auth, and the share-key
// protected download route without it.
func (s *Server) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Put("/storage/*", s.handleUpload)
		r.Get("/storage-url/*", s.handleResolve)
	})
	r.Get("/storage/*", s.handleDownload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("json write: %v", err)
	}
}

// keyParam returns the unescaped wildcard key. chi matches on RawPath when
// the request path needs escaping.
func keyParam(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

// ownsKey reports whether the key's file name was derived for uid.
func ownsKey(key, uid string) bool {
	return uid != "" && strings.HasPrefix(path.Base(key), uid+"-")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uid := authserver.UserFromContext(r.Context())
	key, err := CleanKey(keyParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ownsKey(key, uid) {
		http.Error(w, "key does not belong to caller", http.StatusForbidden)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()
	obj, err := s.store.Put(key, r.Header.Get("Content-Type"), uid, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if errors.Is(err, ErrExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("upload %s: %v", key, err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	s.uploads.Add(1)
	writeJSON(w, http.StatusCreated, obj)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.Stat(keyParam(r))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(obj.Key, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	link := s.baseURL(r) + "/storage/" + strings.Join(escaped, "/") + "?key=" + obj.ShareKey
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	obj, f, err := s.store.Open(keyParam(r))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	defer f.Close()
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("key")), []byte(obj.ShareKey)) != 1 {
		http.Error(w, "invalid share key", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	s.downloads.Add(1)
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("download %s: %v", obj.Key, err)
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("object lookup: %v", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
	}
}
