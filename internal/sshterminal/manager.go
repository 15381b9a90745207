package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/logutil"
	"github.com/vpsdeck/panel/internal/termproto"
	"golang.org/x/crypto/ssh"
)

// ServerRecord is the part of a server record the manager needs.
type ServerRecord struct {
	ID        uint
	Name      string
	IPAddress string
	Port      int
	Status    string
	UserID    uint
}

// ServerLookup loads server records. It returns ErrServerNotFound when no
// server has the ID.
type ServerLookup interface {
	LookupServer(ctx context.Context, id uint) (ServerRecord, error)
}

// CredentialProvider supplies the system SSH key used for every shell.
type CredentialProvider interface {
	Signer(ctx context.Context) (ssh.Signer, error)
}

// Audit event types.
const (
	EventAccessDenied  = "access_denied"
	EventConnectFailed = "connect_failed"
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
)

// AuditEvent describes a session lifecycle event.
type AuditEvent struct {
	SessionID  string
	ServerID   uint
	ServerName string
	UserID     uint
	Type       string
	SourceIP   string
	Details    string
	Duration   time.Duration
}

// AuditSink receives session lifecycle events. Record is called from the
// session goroutine and should return quickly.
type AuditSink interface {
	Record(ev AuditEvent)
}

// Request asks for a terminal on ServerID on behalf of UserID.
type Request struct {
	ServerID uint
	UserID   uint
	Geometry Geometry
	SourceIP string
}

// Transport carries messages between the manager and one client.
//
// Recv blocks until a message arrives or ctx ends. A *termproto.ProtocolError
// from Recv rejects one frame and leaves the connection usable; any other
// error means the client is gone. Close sends the close frame and releases
// the connection; it is called exactly once per session.
type Transport interface {
	Send(ctx context.Context, msg termproto.ServerMessage) error
	Recv(ctx context.Context) (termproto.ClientMessage, error)
	Close(code websocket.StatusCode, reason string) error
}

// ManagerConfig holds the tunable parts of a Manager.
type ManagerConfig struct {
	// ReachableStatuses lists server statuses in which a shell is expected
	// to be listening.
	ReachableStatuses map[string]bool
	// DefaultPort is used for servers with no SSH port set.
	DefaultPort int
	// IdleTimeout closes sessions with no traffic for this long. Zero disables it.
	IdleTimeout time.Duration
	// RateLimit and RateBurst bound client messages per second.
	RateLimit float64
	RateBurst int
	// RecordingDir enables asciinema recordings of session output when set.
	RecordingDir string
}

// DefaultReachableStatuses are the statuses accepted when none are configured.
var DefaultReachableStatuses = map[string]bool{"active": true, "running": true}

const sendTimeout = 5 * time.Second

// Manager runs terminal sessions and tracks the live ones.
type Manager struct {
	lookup ServerLookup
	creds  CredentialProvider
	dialer Dialer
	cfg    ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	audit    AuditSink
	stopped  bool
	wg       sync.WaitGroup

	openShells atomic.Int64

	// onClose is called after a session is removed from the registry.
	onClose func(*Session)
}

func NewManager(lookup ServerLookup, creds CredentialProvider, dialer Dialer, cfg ManagerConfig) *Manager {
	if len(cfg.ReachableStatuses) == 0 {
		cfg.ReachableStatuses = DefaultReachableStatuses
	}
	if cfg.DefaultPort <= 0 {
		cfg.DefaultPort = 22
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = MessageRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = MessageRateBurst
	}
	return &Manager{
		lookup:   lookup,
		creds:    creds,
		dialer:   dialer,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetAuditSink installs sink for lifecycle events. A nil sink disables auditing.
func (m *Manager) SetAuditSink(sink AuditSink) {
	m.mu.Lock()
	m.audit = sink
	m.mu.Unlock()
}

// Run serves one terminal session over t and returns when it has ended.
// The transport is always closed on return. Run returns nil when the
// session ended normally (shell exit, client close, administrative close)
// and the error that ended it otherwise.
func (m *Manager) Run(ctx context.Context, req Request, t Transport) error {
	sess := newSession(req)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	sess.setCancel(cancel)

	if !m.register(sess) {
		return m.fail(sess, t, ErrManagerStopped)
	}
	defer m.unregister(sess)

	sess.setState(StateAuthorizing)
	srv, err := m.authorize(ctx, req)
	if err != nil {
		event := EventConnectFailed
		if errors.Is(err, ErrAuthorization) {
			event = EventAccessDenied
		}
		m.record(sess, event, ClientMessage(err))
		return m.fail(sess, t, m.causeOr(ctx, err))
	}
	sess.setServerName(srv.Name)

	if err := m.checkReady(srv); err != nil {
		m.record(sess, EventConnectFailed, err.Error())
		return m.fail(sess, t, err)
	}

	if !sess.setState(StateOpeningShell) {
		return m.fail(sess, t, m.causeOr(ctx, context.Canceled))
	}
	geom := req.Geometry
	if !geom.Valid() {
		geom = DefaultGeometry
	}
	geom = geom.Clamp()

	shell, err := m.openShell(ctx, srv, geom)
	if err != nil {
		err = m.causeOr(ctx, err)
		m.record(sess, EventConnectFailed, ClientMessage(err))
		return m.fail(sess, t, err)
	}
	m.openShells.Add(1)
	release := m.releaseShell(shell)
	defer release()

	sess.swapGeometry(geom)
	if !sess.setState(StateActive) {
		return m.fail(sess, t, m.causeOr(ctx, context.Canceled))
	}
	log.Printf("[terminal] session %s opened on server %d (%s) for user %d",
		sess.ID, srv.ID, logutil.SanitizeForLog(srv.Name), req.UserID)
	m.record(sess, EventSessionStart, fmt.Sprintf("%s %s", net.JoinHostPort(srv.IPAddress, strconv.Itoa(m.port(srv))), geom))

	if err := m.send(ctx, t, termproto.Status{Status: termproto.StatusConnected}); err != nil {
		return m.finish(ctx, sess, t, errClientClosed, release)
	}
	if err := m.send(ctx, t, termproto.Ready{}); err != nil {
		return m.finish(ctx, sess, t, errClientClosed, release)
	}

	rec := m.startRecording(sess, srv, geom)
	defer func() {
		if err := rec.Close(); err != nil {
			log.Printf("[terminal] session %s: recording: %v", sess.ID, err)
		}
	}()

	return m.finish(ctx, sess, t, m.bridge(ctx, sess, shell, t, rec), release)
}

// Reject ends a connection refused before a session could start, such as
// one whose claimed user is not the authenticated caller. It returns err.
func (m *Manager) Reject(req Request, t Transport, err error) error {
	sess := newSession(req)
	sess.setState(StateAuthorizing)
	if errors.Is(err, ErrAuthorization) {
		m.record(sess, EventAccessDenied, ClientMessage(err))
	}
	return m.fail(sess, t, err)
}

// authorize returns the server if it exists and belongs to the user.
// Unknown servers and foreign servers are indistinguishable to the caller.
func (m *Manager) authorize(ctx context.Context, req Request) (ServerRecord, error) {
	srv, err := m.lookup.LookupServer(ctx, req.ServerID)
	if err != nil {
		if errors.Is(err, ErrServerNotFound) {
			return ServerRecord{}, ErrAuthorization
		}
		return ServerRecord{}, fmt.Errorf("look up server %d: %w", req.ServerID, err)
	}
	if srv.UserID != req.UserID {
		log.Printf("[terminal] user %d denied terminal on server %d (owner %d)", req.UserID, req.ServerID, srv.UserID)
		return ServerRecord{}, ErrAuthorization
	}
	return srv, nil
}

func (m *Manager) checkReady(srv ServerRecord) error {
	if srv.IPAddress == "" {
		return fmt.Errorf("%w: no network address assigned", ErrNotReady)
	}
	if !m.cfg.ReachableStatuses[srv.Status] {
		return fmt.Errorf("%w: server is %s", ErrNotReady, logutil.SanitizeForLog(srv.Status))
	}
	return nil
}

func (m *Manager) port(srv ServerRecord) int {
	if srv.Port > 0 {
		return srv.Port
	}
	return m.cfg.DefaultPort
}

func (m *Manager) openShell(ctx context.Context, srv ServerRecord, geom Geometry) (Shell, error) {
	signer, err := m.creds.Signer(ctx)
	if err != nil {
		return nil, &BackingError{Op: "load credential", Err: err}
	}
	addr := net.JoinHostPort(srv.IPAddress, strconv.Itoa(m.port(srv)))
	shell, err := m.dialer.Dial(ctx, addr, signer, geom)
	if err != nil {
		return nil, &BackingError{Op: "open shell", Err: err}
	}
	return shell, nil
}

func (m *Manager) startRecording(sess *Session, srv ServerRecord, geom Geometry) *Recording {
	if m.cfg.RecordingDir == "" {
		return nil
	}
	rec, err := CreateRecording(m.cfg.RecordingDir, sess.ID, geom, srv.Name)
	if err != nil {
		log.Printf("[terminal] session %s: %v", sess.ID, err)
		return nil
	}
	return rec
}

// causeOr returns the session context's cancel cause once it has ended,
// and err otherwise.
func (m *Manager) causeOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
	}
	return err
}

// fail ends a session that never became active.
func (m *Manager) fail(sess *Session, t Transport, err error) error {
	sess.close(err)
	if !errors.Is(err, context.Canceled) {
		log.Printf("[terminal] session %s on server %d failed: %s", sess.ID, sess.ServerID, ClientMessage(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	t.Send(ctx, termproto.Error{Code: ErrorCode(err), Message: ClientMessage(err)})
	t.Close(CloseCode(err), ErrorCode(err))
	return err
}

// releaseShell returns a func that closes shell and drops it from the
// open-shell count exactly once.
func (m *Manager) releaseShell(shell Shell) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			shell.Close()
			m.openShells.Add(-1)
		})
	}
}

// finish ends an active session. The shell is released before the
// transport closes, since a close handshake with a stalled client can take
// seconds. Normal endings are reported to the client as a disconnected
// status and return nil.
func (m *Manager) finish(ctx context.Context, sess *Session, t Transport, err error, release func()) error {
	release()
	err = m.causeOr(ctx, err)
	sess.close(err)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	var result error
	var details string
	switch {
	case errors.Is(err, errClientClosed):
		details = "client disconnected"
		t.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errShellExited):
		details = "shell exited"
		t.Send(sendCtx, termproto.Status{Status: termproto.StatusDisconnected, Message: details})
		t.Close(websocket.StatusNormalClosure, details)
	case errors.Is(err, ErrSessionClosed):
		details = ErrSessionClosed.Error()
		t.Send(sendCtx, termproto.Status{Status: termproto.StatusDisconnected, Message: details})
		t.Close(websocket.StatusNormalClosure, "session closed")
	case errors.Is(err, ErrManagerStopped):
		details = ErrManagerStopped.Error()
		t.Send(sendCtx, termproto.Status{Status: termproto.StatusDisconnected, Message: details})
		t.Close(websocket.StatusGoingAway, "shutting down")
	case errors.Is(err, context.Canceled):
		details = "connection closed"
		t.Close(websocket.StatusGoingAway, "")
	default:
		details = ClientMessage(err)
		result = err
		t.Send(sendCtx, termproto.Error{Code: ErrorCode(err), Message: details})
		t.Close(CloseCode(err), ErrorCode(err))
	}

	log.Printf("[terminal] session %s on server %d closed after %s: %s",
		sess.ID, sess.ServerID, sess.duration().Round(time.Millisecond), details)
	m.record(sess, EventSessionEnd, details)
	return result
}

func (m *Manager) send(ctx context.Context, t Transport, msg termproto.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return t.Send(ctx, msg)
}

func (m *Manager) record(sess *Session, eventType, details string) {
	m.mu.RLock()
	sink := m.audit
	m.mu.RUnlock()
	if sink == nil {
		return
	}
	ev := AuditEvent{
		SessionID:  sess.ID,
		ServerID:   sess.ServerID,
		ServerName: sess.ServerName(),
		UserID:     sess.UserID,
		Type:       eventType,
		SourceIP:   sess.SourceIP,
		Details:    details,
	}
	if eventType == EventSessionEnd {
		ev.Duration = sess.duration()
	}
	sink.Record(ev)
}

func (m *Manager) register(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.sessions[sess.ID] = sess
	m.wg.Add(1)
	return true
}

func (m *Manager) unregister(sess *Session) {
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	hook := m.onClose
	m.mu.Unlock()
	m.wg.Done()
	if hook != nil {
		hook(sess)
	}
}

// Get returns a snapshot of the session with the given ID.
func (m *Manager) Get(id string) (SessionInfo, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return SessionInfo{}, false
	}
	return sess.Info(), true
}

// Sessions lists live sessions on serverID, or on every server when
// serverID is 0, oldest first.
func (m *Manager) Sessions(serverID uint) []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if serverID == 0 || sess.ServerID == serverID {
			out = append(out, sess.Info())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseSession ends the session with the given ID. It reports whether the
// session existed.
func (m *Manager) CloseSession(id string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	sess.terminate(ErrSessionClosed)
	return true
}

// CloseAllForServer ends every session on serverID and returns how many
// were closed.
func (m *Manager) CloseAllForServer(serverID uint) int {
	m.mu.RLock()
	var targets []*Session
	for _, sess := range m.sessions {
		if sess.ServerID == serverID {
			targets = append(targets, sess)
		}
	}
	m.mu.RUnlock()
	for _, sess := range targets {
		sess.terminate(ErrSessionClosed)
	}
	return len(targets)
}

// Stop refuses new sessions, ends the live ones and waits for them to
// finish tearing down or for ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	targets := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		targets = append(targets, sess)
	}
	m.mu.Unlock()

	for _, sess := range targets {
		sess.terminate(ErrManagerStopped)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of registered sessions in any state.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// OpenShells returns the number of remote shells currently open. It drops
// back to zero once every session has been torn down.
func (m *Manager) OpenShells() int64 {
	return m.openShells.Load()
}
