package termclient

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vpsdeck/panel/internal/termproto"
)

// fakeSurface records everything the controller does to it.
type fakeSurface struct {
	mu          sync.Mutex
	out         []byte
	statuses    []ConnState
	messages    []string
	clears      int
	size        Geometry
	fullscreen  bool
	fullscreenE error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{size: Geometry{Rows: 24, Cols: 80}}
}

func (s *fakeSurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, p...)
	return len(p), nil
}

func (s *fakeSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.out = nil
}

func (s *fakeSurface) ShowStatus(state ConnState, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, state)
	s.messages = append(s.messages, msg)
}

func (s *fakeSurface) Size() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *fakeSurface) SetFullscreen(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fullscreenE != nil {
		return s.fullscreenE
	}
	s.fullscreen = on
	return nil
}

func (s *fakeSurface) setSize(g Geometry) {
	s.mu.Lock()
	s.size = g
	s.mu.Unlock()
}

func (s *fakeSurface) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.out)
}

func (s *fakeSurface) Statuses() ([]ConnState, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnState(nil), s.statuses...), append([]string(nil), s.messages...)
}

func (s *fakeSurface) Fullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

// fakeConn is an in-memory channel. Server messages are pushed by the test.
type fakeConn struct {
	in   chan any
	gone chan struct{}

	mu     sync.Mutex
	sent   []termproto.ClientMessage
	closed bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan any, 16), gone: make(chan struct{})}
}

func (c *fakeConn) Recv(ctx context.Context) (termproto.ServerMessage, error) {
	select {
	case v := <-c.in:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v.(termproto.ServerMessage), nil
	case <-c.gone:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, msg termproto.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) push(msg termproto.ServerMessage) { c.in <- msg }
func (c *fakeConn) pushErr(err error)                { c.in <- err }
func (c *fakeConn) hangup()                          { c.once.Do(func() { close(c.gone) }) }

func (c *fakeConn) Sent() []termproto.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]termproto.ClientMessage(nil), c.sent...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type dialCall struct {
	serverID, userID uint
	geom             Geometry
}

// fakeDialer hands out fresh fakeConns, failing with errs first.
type fakeDialer struct {
	mu    sync.Mutex
	calls []dialCall
	conns []*fakeConn
	errs  []error
}

func (d *fakeDialer) Dial(_ context.Context, serverID, userID uint, g Geometry) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dialCall{serverID, userID, g})
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Calls() []dialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dialCall(nil), d.calls...)
}

func (d *fakeDialer) Conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		t.Fatalf("no conn %d (have %d)", i, len(d.conns))
	}
	return d.conns[i]
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
