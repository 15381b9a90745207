package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/middleware"
	"github.com/vpsdeck/panel/internal/sshaudit"
	"github.com/vpsdeck/panel/internal/sshterminal"
	"github.com/vpsdeck/panel/internal/termproto"
)

// TerminalMgr is set from main.go during init.
var TerminalMgr *sshterminal.Manager

// TerminalOriginPatterns lists extra origins allowed to open terminal
// websockets. Same-origin requests are always allowed.
var TerminalOriginPatterns []string

const (
	// terminalReadLimit bounds one inbound frame. Input messages above
	// sshterminal.MaxInputMessageSize are dropped by the manager; frames above
	// this limit close the connection.
	terminalReadLimit = 1024 * 1024

	terminalWriteTimeout = 10 * time.Second

	// terminalCloseTimeout bounds the close handshake. A client that stops
	// reading would otherwise hold the connection for the library's 5s wait.
	terminalCloseTimeout = time.Second
)

// TerminalWS upgrades to a terminal websocket for one server.
//
// GET /api/v1/terminal?serverId=N&userId=N[&rows=N&cols=N]
//
// Malformed parameters are rejected with 400 before the upgrade. Every
// later failure, including a userId that is not the caller, is reported
// over the socket as an error message and a close code.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serverID, ok := parseID(q.Get("serverId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid serverId")
		return
	}
	userID, ok := parseID(q.Get("userId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid userId")
		return
	}
	geom, ok := parseGeometry(q.Get("rows"), q.Get("cols"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid rows or cols")
		return
	}
	if TerminalMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Terminal service not initialized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: TerminalOriginPatterns,
	})
	if err != nil {
		log.Printf("[terminal] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(terminalReadLimit)

	t := newWSTransport(conn)
	req := sshterminal.Request{
		ServerID: serverID,
		UserID:   userID,
		Geometry: geom,
		SourceIP: sshaudit.RequestIP(r),
	}

	user := middleware.GetUser(r)
	if user == nil || user.ID != userID {
		TerminalMgr.Reject(req, t, sshterminal.ErrAuthorization)
		return
	}

	TerminalMgr.Run(r.Context(), req, t)
}

// parseGeometry parses optional rows and cols. Both or neither must be set.
func parseGeometry(rows, cols string) (sshterminal.Geometry, bool) {
	if rows == "" && cols == "" {
		return sshterminal.Geometry{}, true
	}
	r, err := strconv.ParseUint(rows, 10, 16)
	if err != nil || r == 0 {
		return sshterminal.Geometry{}, false
	}
	c, err := strconv.ParseUint(cols, 10, 16)
	if err != nil || c == 0 {
		return sshterminal.Geometry{}, false
	}
	return sshterminal.Geometry{Rows: uint16(r), Cols: uint16(c)}, true
}

type wsFrame struct {
	binary bool
	data   []byte
}

// wsTransport adapts a websocket to sshterminal.Transport. A single reader
// goroutine owns conn.Read, because cancelling a Read context closes the
// connection; Recv can then be abandoned without losing the socket.
type wsTransport struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	frames  chan wsFrame
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		frames: make(chan wsFrame),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *wsTransport) readLoop() {
	defer close(t.done)
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			t.readErr = err
			return
		}
		select {
		case t.frames <- wsFrame{binary: typ == websocket.MessageBinary, data: data}:
		case <-t.ctx.Done():
			t.readErr = t.ctx.Err()
			return
		}
	}
}

func (t *wsTransport) Recv(ctx context.Context) (termproto.ClientMessage, error) {
	select {
	case f := <-t.frames:
		return termproto.DecodeClient(f.binary, f.data)
	case <-t.done:
		return nil, t.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) Send(ctx context.Context, msg termproto.ServerMessage) error {
	payload, err := termproto.EncodeServer(msg)
	if err != nil {
		return err
	}
	// A cancelled write context closes the websocket, so only the timeout
	// bounds writes; the caller's ctx is checked up front.
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	return t.conn.Write(wctx, websocket.MessageText, payload)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	t.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- t.conn.Close(code, reason) }()
		timer := time.NewTimer(terminalCloseTimeout)
		defer timer.Stop()
		select {
		case t.closeErr = <-done:
		case <-timer.C:
			t.closeErr = t.conn.CloseNow()
		}
		t.cancel()
	})
	return t.closeErr
}
