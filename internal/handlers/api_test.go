package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vpsdeck/panel/internal/auth"
	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/sshaudit"
	"github.com/vpsdeck/panel/internal/sshkeys"
	"github.com/vpsdeck/panel/internal/sshterminal"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	SessionStore = auth.NewSessionStore()
	t.Cleanup(func() { SessionStore = nil })
	return NewRouter()
}

func loginAs(t *testing.T, user *database.User) string {
	t.Helper()
	tok, err := SessionStore.Create(user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return tok
}

func doRequest(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRouter_RequiresAuth(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/servers", "/api/v1/terminal?serverId=1&userId=1"} {
		if w := doRequest(h, "GET", path, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestRouter_CurrentUser(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "alice", "user")

	w := doRequest(h, "GET", "/api/v1/auth/me", loginAs(t, user))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := parseResponse(t, w)
	if resp["username"] != "alice" || resp["id"] != float64(user.ID) {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestRouter_APIToken(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "cli", "user")

	tok, err := auth.NewToken()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.CreateAPIToken(&database.APIToken{UserID: user.ID, TokenHash: auth.HashToken(tok), Label: "test"}); err != nil {
		t.Fatal(err)
	}

	if w := doRequest(h, "GET", "/api/v1/auth/me", tok); w.Code != http.StatusOK {
		t.Errorf("expected 200 with API token, got %d", w.Code)
	}
	if w := doRequest(h, "GET", "/api/v1/auth/me", tok+"x"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
}

func TestRouter_Logout(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "alice", "user")
	tok := loginAs(t, user)

	if w := doRequest(h, "POST", "/api/v1/auth/logout", tok); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if w := doRequest(h, "GET", "/api/v1/auth/me", tok); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
}

func TestRouter_CreateSession(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "browser", "user")

	tok, err := auth.NewToken()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.CreateAPIToken(&database.APIToken{UserID: user.ID, TokenHash: auth.HashToken(tok)}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(h, "POST", "/api/v1/auth/session", tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("session cookie not set: %+v", cookie)
	}

	r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: cookie.Value})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("cookie auth: expected 200, got %d", w.Code)
	}
}

func TestRouter_LogoutAll(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "alice", "user")
	first, second := loginAs(t, user), loginAs(t, user)

	if w := doRequest(h, "POST", "/api/v1/auth/logout?all=true", first); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if w := doRequest(h, "GET", "/api/v1/auth/me", second); w.Code != http.StatusUnauthorized {
		t.Errorf("other session survived logout-all: %d", w.Code)
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	user := createTestUser(t, "alice", "user")
	admin := createTestUser(t, "root", "admin")
	setupTerminalManager(t)

	if w := doRequest(h, "GET", "/api/v1/terminal/sessions", loginAs(t, user)); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", w.Code)
	}
	if w := doRequest(h, "GET", "/api/v1/terminal/sessions", loginAs(t, admin)); w.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", w.Code)
	}
}

func TestServers(t *testing.T) {
	setupTestDB(t)
	h := setupRouter(t)
	alice := createTestUser(t, "alice", "user")
	bob := createTestUser(t, "bob", "user")
	mine := createTestServer(t, "web-1", "10.0.0.5", database.StatusActive, alice.ID)
	createTestServer(t, "db-1", "10.0.0.6", database.StatusActive, bob.ID)
	tok := loginAs(t, alice)

	w := doRequest(h, "GET", "/api/v1/servers", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "web-1") || strings.Contains(body, "db-1") {
		t.Errorf("list leaked or missed servers: %s", body)
	}

	w = doRequest(h, "GET", fmt.Sprintf("/api/v1/servers/%d", mine.ID), tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := parseResponse(t, w); resp["ip_address"] != "10.0.0.5" || resp["status"] != "active" {
		t.Errorf("unexpected server %v", resp)
	}

	w = doRequest(h, "GET", fmt.Sprintf("/api/v1/servers/%d", mine.ID), loginAs(t, bob))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign server, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	setupTestDB(t)
	TerminalMgr = nil

	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := parseResponse(t, w)
	if resp["database"] != "connected" || resp["terminal"] != "disabled" {
		t.Errorf("unexpected health %v", resp)
	}

	setupTerminalManager(t)
	w = httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))
	if resp := parseResponse(t, w); resp["terminal"] != "enabled" || resp["open_shells"] != float64(0) {
		t.Errorf("unexpected health %v", resp)
	}
}

func TestHealthCheck_NoDatabase(t *testing.T) {
	database.DB = nil
	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

type failingKeySource struct{}

func (failingKeySource) PublicKey(context.Context) (string, error) {
	return "", errors.New("no key")
}

func TestGetSystemKey(t *testing.T) {
	SystemKey = sshkeys.NewFileProvider(t.TempDir())
	t.Cleanup(func() { SystemKey = nil })

	w := httptest.NewRecorder()
	GetSystemKey(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := parseResponse(t, w)
	if !strings.HasPrefix(resp["public_key"].(string), "ssh-ed25519 ") {
		t.Errorf("unexpected public key %v", resp["public_key"])
	}
	if !strings.HasPrefix(resp["fingerprint"].(string), "SHA256:") {
		t.Errorf("unexpected fingerprint %v", resp["fingerprint"])
	}

	SystemKey = failingKeySource{}
	w = httptest.NewRecorder()
	GetSystemKey(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestTerminalAuditLogs(t *testing.T) {
	setupTestDB(t)
	auditor := sshaudit.NewAuditor(database.DB, 30)
	sshaudit.SetGlobalForTest(auditor)
	t.Cleanup(sshaudit.ResetGlobalForTest)

	auditor.Log(sshterminal.AuditEvent{SessionID: "s1", ServerID: 1, UserID: 7, Type: sshterminal.EventSessionStart})
	auditor.Log(sshterminal.AuditEvent{SessionID: "s1", ServerID: 1, UserID: 7, Type: sshterminal.EventSessionEnd})
	auditor.Log(sshterminal.AuditEvent{SessionID: "s2", ServerID: 2, UserID: 8, Type: sshterminal.EventAccessDenied})

	w := httptest.NewRecorder()
	GetTerminalAuditLogs(w, httptest.NewRequest("GET", "/?server_id=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := parseResponse(t, w)["total"]; got != float64(2) {
		t.Errorf("expected 2 entries for server 1, got %v", got)
	}

	w = httptest.NewRecorder()
	GetTerminalAuditLogs(w, httptest.NewRequest("GET", "/?event_type=access_denied", nil))
	if got := parseResponse(t, w)["total"]; got != float64(1) {
		t.Errorf("expected 1 access_denied entry, got %v", got)
	}

	for _, q := range []string{"server_id=x", "since=yesterday", "limit=0", "offset=-1"} {
		w = httptest.NewRecorder()
		GetTerminalAuditLogs(w, httptest.NewRequest("GET", "/?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}

	w = httptest.NewRecorder()
	PurgeTerminalAuditLogs(w, httptest.NewRequest("POST", "/?days=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("purge: expected 200, got %d", w.Code)
	}
	if got := parseResponse(t, w)["deleted"]; got != float64(0) {
		t.Errorf("fresh entries must survive purge, deleted %v", got)
	}
}

func TestTerminalAuditLogs_NotInitialized(t *testing.T) {
	sshaudit.ResetGlobalForTest()
	w := httptest.NewRecorder()
	GetTerminalAuditLogs(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
