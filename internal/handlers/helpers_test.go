package handlers

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/middleware"
	"github.com/vpsdeck/panel/internal/sshterminal"
	gossh "golang.org/x/crypto/ssh"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// --- test helpers ---

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
}

func createTestUser(t *testing.T, username, role string) *database.User {
	t.Helper()
	user := &database.User{Username: username, Role: role}
	if err := database.DB.Create(user).Error; err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func createTestServer(t *testing.T, name, ip, status string, owner uint) *database.Server {
	t.Helper()
	srv := &database.Server{Name: name, Status: status, UserID: owner}
	if ip != "" {
		srv.IPAddress = &ip
	}
	if err := database.DB.Create(srv).Error; err != nil {
		t.Fatalf("create test server: %v", err)
	}
	return srv
}

// buildRequest creates an HTTP request with chi URL params and an authenticated user in context.
func buildRequest(t *testing.T, method, url string, user *database.User, chiParams map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)

	rctx := chi.NewRouteContext()
	for k, v := range chiParams {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	if user != nil {
		req = middleware.WithUser(req, user)
	}
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

// --- terminal fakes ---

type staticCreds struct{ signer gossh.Signer }

func (c staticCreds) Signer(context.Context) (gossh.Signer, error) { return c.signer, nil }

func newStaticCreds(t *testing.T) staticCreds {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return staticCreds{signer: signer}
}

// echoShell writes back whatever it receives.
type echoShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	resizes []sshterminal.Geometry
	closed  bool
}

func newEchoShell() *echoShell {
	pr, pw := io.Pipe()
	return &echoShell{pr: pr, pw: pw}
}

func (s *echoShell) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *echoShell) Write(p []byte) (int, error) { return s.pw.Write(p) }

func (s *echoShell) Resize(g sshterminal.Geometry) error {
	s.mu.Lock()
	s.resizes = append(s.resizes, g)
	s.mu.Unlock()
	return nil
}

func (s *echoShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pw.Close()
	return nil
}

type echoDialer struct {
	mu    sync.Mutex
	addrs []string
}

func (d *echoDialer) Dial(_ context.Context, addr string, _ gossh.Signer, _ sshterminal.Geometry) (sshterminal.Shell, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, addr)
	d.mu.Unlock()
	return newEchoShell(), nil
}

func (d *echoDialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

// setupTerminalManager installs a manager backed by the test database and an
// echo dialer.
func setupTerminalManager(t *testing.T) *echoDialer {
	t.Helper()
	dialer := &echoDialer{}
	TerminalMgr = sshterminal.NewManager(ServerLookup{}, newStaticCreds(t), dialer, sshterminal.ManagerConfig{})
	t.Cleanup(func() {
		TerminalMgr.Stop(context.Background())
		TerminalMgr = nil
	})
	return dialer
}
