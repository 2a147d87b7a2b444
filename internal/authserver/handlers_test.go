package authserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"chat-app/internal/authutil"
)

func TestHealthHandlerWithoutDB(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/auth/healthz", nil)
	rr := httptest.NewRecorder()
	srv.healthHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 in stateless mode, got %d", rr.Code)
	}
	var payload healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.DBEnabled {
		t.Fatalf("expected dbEnabled=false")
	}
}

func TestHealthHandlerWithDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	mock.ExpectPing()
	req := httptest.NewRequest(http.MethodGet, "/auth/healthz", nil)
	rr := httptest.NewRecorder()
	srv.healthHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnonymousSignInStateless(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodPost, "/auth/anonymous", nil)
	rr := httptest.NewRecorder()
	srv.anonymousHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp signInResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !authutil.IsAnonymousID(resp.UID) || resp.Token == "" || resp.Resumed {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if uid, err := authutil.ValidateToken(resp.Token); err != nil || uid != resp.UID {
		t.Fatalf("token does not carry uid: %v %s", err, uid)
	}
	if srv.Metrics().StatelessSignIns.Load() != 1 {
		t.Fatalf("expected stateless counter")
	}
}

func TestAnonymousSignInPersistsNewUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	mock.ExpectExec("INSERT INTO users").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	req := httptest.NewRequest(http.MethodPost, "/auth/anonymous", nil)
	rr := httptest.NewRecorder()
	srv.anonymousHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnonymousSignInResumesUID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	uid := "anon_0123456789abcdef0123456789abcdef"
	token, err := authutil.IssueToken(uid)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	mock.ExpectExec("UPDATE users SET last_seen_at").WithArgs(uid).WillReturnResult(sqlmock.NewResult(0, 1))
	req := httptest.NewRequest(http.MethodPost, "/auth/anonymous", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	srv.anonymousHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp signInResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.UID != uid || !resp.Resumed {
		t.Fatalf("expected resumed uid, got %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnonymousSignInDBFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("down"))
	req := httptest.NewRequest(http.MethodPost, "/auth/anonymous", nil)
	rr := httptest.NewRecorder()
	srv.anonymousHandler()(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAuthenticatedMiddleware(t *testing.T) {
	token, err := authutil.IssueToken("anon_0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	srv := New(nil)
	var seen string
	handler := srv.Authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "anon_0123456789abcdef0123456789abcdef" {
		t.Fatalf("expected uid on context, got %q", seen)
	}

	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "" {
		t.Fatalf("expected query token to authenticate")
	}
}

func TestAuthenticatedMiddlewareRejectsInvalidToken(t *testing.T) {
	srv := New(nil)
	handler := srv.Authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
