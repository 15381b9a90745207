package sshterminal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a terminal session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateOpeningShell
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateOpeningShell:
		return "opening_shell"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one terminal connection tracked by the Manager.
type Session struct {
	ID        string
	ServerID  uint
	UserID    uint
	SourceIP  string
	CreatedAt time.Time

	mu           sync.Mutex
	serverName   string
	state        State
	history      []State
	geometry     Geometry
	lastActivity time.Time
	closedAt     time.Time
	closeErr     error
	cancel       context.CancelCauseFunc
}

// SessionInfo is a point-in-time snapshot of a Session.
type SessionInfo struct {
	ID           string    `json:"id"`
	ServerID     uint      `json:"server_id"`
	ServerName   string    `json:"server_name"`
	UserID       uint      `json:"user_id"`
	SourceIP     string    `json:"source_ip"`
	State        string    `json:"state"`
	Rows         uint16    `json:"rows"`
	Cols         uint16    `json:"cols"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func newSession(req Request) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		ServerID:     req.ServerID,
		UserID:       req.UserID,
		SourceIP:     req.SourceIP,
		CreatedAt:    now,
		state:        StateConnecting,
		history:      []State{StateConnecting},
		lastActivity: now,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the states the session has passed through, in order.
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// setState moves the session forward. It reports false once the session
// is closed; Closed is never left.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	if st == s.state {
		return true
	}
	s.state = st
	s.history = append(s.history, st)
	if st == StateClosed {
		s.closedAt = time.Now()
	}
	return true
}

func (s *Session) close(err error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.mu.Unlock()
	s.setState(StateClosed)
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) ServerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverName
}

func (s *Session) setServerName(name string) {
	s.mu.Lock()
	s.serverName = name
	s.mu.Unlock()
}

func (s *Session) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// swapGeometry records g and reports whether it differs from the current size.
func (s *Session) swapGeometry(g Geometry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.geometry == g {
		return false
	}
	s.geometry = g
	return true
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// duration is the session's lifetime so far, or its full lifetime once closed.
func (s *Session) duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closedAt.IsZero() {
		return s.closedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

func (s *Session) setCancel(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// terminate cancels the session's context with cause.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.ID,
		ServerID:     s.ServerID,
		ServerName:   s.serverName,
		UserID:       s.UserID,
		SourceIP:     s.SourceIP,
		State:        s.state.String(),
		Rows:         s.geometry.Rows,
		Cols:         s.geometry.Cols,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}
