package sshterminal

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/termproto"
	"golang.org/x/crypto/ssh"
)

func testSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

type fakeLookup map[uint]ServerRecord

func (f fakeLookup) LookupServer(_ context.Context, id uint) (ServerRecord, error) {
	srv, ok := f[id]
	if !ok {
		return ServerRecord{}, ErrServerNotFound
	}
	return srv, nil
}

type fakeCreds struct {
	signer ssh.Signer
	err    error
}

func (f *fakeCreds) Signer(context.Context) (ssh.Signer, error) {
	return f.signer, f.err
}

// fakeShell echoes input back as output and records resizes.
type fakeShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	resizes []Geometry
	closed  bool
}

func newFakeShell() *fakeShell {
	pr, pw := io.Pipe()
	return &fakeShell{pr: pr, pw: pw}
}

func (s *fakeShell) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *fakeShell) Write(p []byte) (int, error) { return s.pw.Write(p) }

func (s *fakeShell) Resize(g Geometry) error {
	s.mu.Lock()
	s.resizes = append(s.resizes, g)
	s.mu.Unlock()
	return nil
}

func (s *fakeShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pr.Close()
	return nil
}

func (s *fakeShell) Resizes() []Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Geometry(nil), s.resizes...)
}

func (s *fakeShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit writes raw output as if the remote shell printed it.
func (s *fakeShell) emit(b []byte) { s.pw.Write(b) }

// exit ends the output stream the way a shell exit does.
func (s *fakeShell) exit() { s.pw.Close() }

// drop ends the output stream with a connection error.
func (s *fakeShell) drop(err error) { s.pw.CloseWithError(err) }

type fakeDialer struct {
	mu    sync.Mutex
	dials []string
	geoms []Geometry
	shell *fakeShell
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, addr string, _ ssh.Signer, g Geometry) (Shell, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, addr)
	d.geoms = append(d.geoms, g)
	if d.err != nil {
		return nil, d.err
	}
	if d.shell == nil {
		d.shell = newFakeShell()
	}
	return d.shell, nil
}

func (d *fakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// memTransport is an in-memory Transport driven by the test.
type memTransport struct {
	in   chan any
	out  chan termproto.ServerMessage
	gone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	code      websocket.StatusCode
	reason    string

	// stall, when set, holds Close open like a peer that never answers the
	// close handshake.
	stall chan struct{}
}

func newMemTransport() *memTransport {
	return &memTransport{
		in:     make(chan any, 16),
		out:    make(chan termproto.ServerMessage, 256),
		gone:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (tr *memTransport) Send(ctx context.Context, msg termproto.ServerMessage) error {
	select {
	case <-tr.closed:
		return errors.New("transport closed")
	default:
	}
	select {
	case tr.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tr *memTransport) Recv(ctx context.Context) (termproto.ClientMessage, error) {
	select {
	case v := <-tr.in:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v.(termproto.ClientMessage), nil
	case <-tr.gone:
		return nil, io.EOF
	case <-tr.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (tr *memTransport) Close(code websocket.StatusCode, reason string) error {
	tr.closeOnce.Do(func() {
		tr.mu.Lock()
		tr.code, tr.reason = code, reason
		tr.mu.Unlock()
		close(tr.closed)
	})
	if tr.stall != nil {
		<-tr.stall
	}
	return nil
}

func (tr *memTransport) push(msg termproto.ClientMessage) { tr.in <- msg }
func (tr *memTransport) pushErr(err error)                { tr.in <- err }
func (tr *memTransport) hangup()                          { close(tr.gone) }

func (tr *memTransport) closeCode(t *testing.T) websocket.StatusCode {
	t.Helper()
	select {
	case <-tr.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.code
}

func (tr *memTransport) next(t *testing.T) termproto.ServerMessage {
	t.Helper()
	select {
	case msg := <-tr.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

// readOutput collects Output messages until their concatenation contains want.
func (tr *memTransport) readOutput(t *testing.T, want string) string {
	t.Helper()
	var got strings.Builder
	for !strings.Contains(got.String(), want) {
		msg := tr.next(t)
		out, ok := msg.(termproto.Output)
		if !ok {
			t.Fatalf("expected output, got %#v (so far %q)", msg, got.String())
		}
		got.Write(out.Data)
	}
	return got.String()
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Record(ev AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
