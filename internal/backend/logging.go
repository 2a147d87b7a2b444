package backend

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder captures the response status and body size for the access
// log. Hijack and Flush are forwarded so live subscriptions can upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	upgraded bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	sr.upgraded = true
	return hj.Hijack()
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type accessEntry struct {
	Route       string `json:"route"`
	Method      string `json:"method"`
	Status      int    `json:"status"`
	Bytes       int64  `json:"bytes"`
	DurationMS  int64  `json:"duration_ms"`
	Upgraded    bool   `json:"upgraded,omitempty"`
	Persistence string `json:"persistence"`
	Client      string `json:"client"`
	Timestamp   string `json:"timestamp"`
}

// accessLog writes one JSON line per request. For live subscriptions the
// line is written when the socket closes.
func (s *Server) accessLog() func(http.Handler) http.Handler {
	persistence := "postgres"
	if s.db == nil {
		persistence = "stateless"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.requests.Add(1)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			payload, err := json.Marshal(accessEntry{
				Route:       routePattern(r),
				Method:      r.Method,
				Status:      rec.status,
				Bytes:       rec.bytes,
				DurationMS:  time.Since(start).Milliseconds(),
				Upgraded:    rec.upgraded,
				Persistence: persistence,
				Client:      clientOrigin(r),
				Timestamp:   start.UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				log.Printf("access log: %v", err)
				return
			}
			log.Print(string(payload))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// clientOrigin reports the first X-Forwarded-For hop, or the peer address.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
