package authserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"chat-app/internal/authutil"
)

type ctxUserKey struct{}

type signInResponse struct {
	UID     string `json:"uid"`
	Token   string `json:"token"`
	Resumed bool   `json:"resumed"`
}

type healthPayload struct {
	Status    string `json:"status"`
	DBEnabled bool   `json:"dbEnabled"`
	Message   string `json:"message"`
}

// UserFromContext returns the uid placed on the request context by Authenticated.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying uid, as Authenticated would.
func WithUser(parent context.Context, uid string) context.Context {
	return context.WithValue(parent, ctxUserKey{}, uid)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("json write: %v", err)
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			writeJSON(w, http.StatusOK, healthPayload{Status: "ok", DBEnabled: false, Message: "stateless: set DATABASE_URL to persist users"})
			return
		}
		if err := s.DB.PingContext(r.Context()); err != nil {
			log.Printf("health ping failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, healthPayload{Status: "error", DBEnabled: true, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthPayload{Status: "ok", DBEnabled: true, Message: "ok"})
	}
}

// anonymousHandler signs a caller in without credentials. A still-valid
// bearer token resumes the same uid instead of minting a new one.
func (s *Server) anonymousHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.SignInRequests.Add(1)
		uid := ""
		resumed := false
		if prev := authutil.BearerToken(r.Header.Get("Authorization")); prev != "" {
			if existing, err := authutil.ValidateToken(prev); err == nil {
				uid = existing
				resumed = true
			} else {
				s.metrics.RejectedTokens.Add(1)
			}
		}
		if uid == "" {
			fresh, err := authutil.NewAnonymousID()
			if err != nil {
				http.Error(w, "id error", http.StatusInternalServerError)
				return
			}
			uid = fresh
		}
		if err := s.recordUser(r.Context(), uid, resumed); err != nil {
			log.Printf("record user %s: %v", uid, err)
			http.Error(w, "sign-in unavailable", http.StatusServiceUnavailable)
			return
		}
		token, err := authutil.IssueToken(uid)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		if resumed {
			s.metrics.ResumedUsers.Add(1)
		} else {
			s.metrics.NewUsers.Add(1)
		}
		writeJSON(w, http.StatusOK, signInResponse{UID: uid, Token: token, Resumed: resumed})
	}
}

func (s *Server) recordUser(ctx context.Context, uid string, resumed bool) error {
	if s.DB == nil {
		s.metrics.StatelessSignIns.Add(1)
		return nil
	}
	if resumed {
		res, err := s.DB.ExecContext(ctx, `UPDATE users SET last_seen_at = NOW() WHERE uid = $1`, uid)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (uid) VALUES ($1) ON CONFLICT (uid) DO NOTHING`, uid)
	return err
}

// Authenticated rejects requests without a valid bearer token (or `token`
// query parameter, used by WebSocket upgrades) and stores the uid on the context.
func (s *Server) Authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := authutil.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			uid, err := authutil.ValidateToken(token)
			if err != nil {
				s.metrics.RejectedTokens.Add(1)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			s.metrics.AuthenticatedCalls.Add(1)
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uid)))
		})
	}
}

// RunMigrations creates the users table when persistence is enabled.
func RunMigrations(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
