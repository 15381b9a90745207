package termclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/termproto"
)

// Conn is one open terminal channel.
type Conn interface {
	Send(ctx context.Context, msg termproto.ClientMessage) error
	Recv(ctx context.Context) (termproto.ServerMessage, error)
	Close() error
}

// Dialer opens a terminal channel scoped to a (server, user) pair.
type Dialer interface {
	Dial(ctx context.Context, serverID, userID uint, g Geometry) (Conn, error)
}

// HandshakeError reports a websocket upgrade refused by the server.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("terminal handshake failed (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

const (
	clientReadLimit    = 4 * 1024 * 1024
	clientWriteTimeout = 10 * time.Second
)

// WSDialer dials the panel's terminal websocket.
type WSDialer struct {
	// BaseURL is the panel address, e.g. https://panel.example.com.
	BaseURL string
	// Token is sent as a bearer token.
	Token      string
	HTTPClient *http.Client
}

// TerminalURL returns the websocket URL for a session.
func (d *WSDialer) TerminalURL(serverID, userID uint, g Geometry) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/terminal"
	q := url.Values{}
	q.Set("serverId", strconv.FormatUint(uint64(serverID), 10))
	q.Set("userId", strconv.FormatUint(uint64(userID), 10))
	if g.Valid() {
		q.Set("rows", strconv.Itoa(int(g.Rows)))
		q.Set("cols", strconv.Itoa(int(g.Cols)))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context, serverID, userID uint, g Geometry) (Conn, error) {
	wsURL, err := d.TerminalURL(serverID, userID, g)
	if err != nil {
		return nil, err
	}
	opts := &websocket.DialOptions{HTTPClient: d.HTTPClient}
	if d.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + d.Token}}
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial terminal: %w", err)
	}
	conn.SetReadLimit(clientReadLimit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Recv blocks for the next server message. Cancelling ctx closes the
// connection, so callers only cancel when they are tearing it down.
func (c *wsConn) Recv(ctx context.Context) (termproto.ServerMessage, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return termproto.DecodeServer(data)
	}
}

func (c *wsConn) Send(ctx context.Context, msg termproto.ClientMessage) error {
	binary, payload, err := termproto.EncodeClient(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clientWriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, typ, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
