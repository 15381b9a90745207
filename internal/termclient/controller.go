// Package termclient drives a remote server terminal from a local display.
//
// A Controller owns at most one live session at a time. Open and Reconnect
// replace it, Close disposes it; nothing outside the Controller holds a
// reference to the underlying connection. Failures are shown inline on the
// Surface and are never retried once the server has answered: the user
// decides when to Reconnect.
package termclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/termproto"
)

var (
	// ErrNoAddress is returned by Open for a server without an IP address.
	ErrNoAddress = errors.New("server has no IP address yet")
	// ErrNotOpen is returned by Reconnect before the first Open.
	ErrNotOpen = errors.New("terminal was never opened")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("terminal closed")
	// ErrNotConnected is returned for input sent while no session is connected.
	ErrNotConnected = errors.New("terminal not connected")
)

const (
	DefaultResizeDelay = 100 * time.Millisecond
	// DefaultFrameDelay approximates one rendered frame.
	DefaultFrameDelay = 16 * time.Millisecond

	sendTimeout = 10 * time.Second
)

// ServerRef identifies the server a terminal is bound to.
type ServerRef struct {
	ID        uint
	Name      string
	IPAddress string
}

func (s ServerRef) label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("server %d", s.ID)
}

// UserRef identifies the user the terminal acts for.
type UserRef struct {
	ID uint
}

// Options tunes a Controller. Zero values take the defaults.
type Options struct {
	// Retry applies to the initial dial only. The zero value means
	// DefaultRetryPolicy.
	Retry       RetryPolicy
	ResizeDelay time.Duration
	FrameDelay  time.Duration
	// OnStateChange is called after every state change, from the goroutine
	// that caused it. It must not call Close or Reconnect synchronously.
	OnStateChange func(state ConnState, msg string)
}

// session is one transport channel and its reader.
type session struct {
	gen    uint64
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// sent is the last geometry the server was told about. Guarded by
	// Controller.mu.
	sent Geometry
}

// Controller binds a Surface to a remote terminal session.
type Controller struct {
	dialer  Dialer
	surface Surface
	opts    Options

	surfaceMu sync.Mutex

	mu          sync.Mutex
	server      ServerRef
	user        UserRef
	opened      bool
	closed      bool
	sess        *session
	gen         uint64
	state       ConnState
	fullscreen  bool
	pending     Geometry
	resizeTimer *time.Timer
	frameTimer  *time.Timer
}

func NewController(dialer Dialer, surface Surface, opts Options) *Controller {
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.ResizeDelay <= 0 {
		opts.ResizeDelay = DefaultResizeDelay
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = DefaultFrameDelay
	}
	return &Controller{dialer: dialer, surface: surface, opts: opts}
}

// Open binds the controller to server and user and connects, replacing any
// current session. It returns once the channel is established or the dial
// has failed; the server's answer arrives asynchronously.
func (c *Controller) Open(ctx context.Context, server ServerRef, user UserRef) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.server, c.user, c.opened = server, user, true
	old, gen := c.detachLocked()
	c.mu.Unlock()

	c.dispose(old)
	return c.start(ctx, gen)
}

// Reconnect disposes the current session, clears the display and opens a
// new session for the same server and user.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.opened {
		c.mu.Unlock()
		return ErrNotOpen
	}
	old, gen := c.detachLocked()
	c.mu.Unlock()

	c.dispose(old)
	c.withSurface(func(s Surface) { s.Clear() })
	return c.start(ctx, gen)
}

// Close disposes the session and releases the surface. It is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	old, _ := c.detachLocked()
	if c.resizeTimer != nil {
		c.resizeTimer.Stop()
		c.resizeTimer = nil
	}
	if c.frameTimer != nil {
		c.frameTimer.Stop()
		c.frameTimer = nil
	}
	fullscreen := c.fullscreen
	c.fullscreen = false
	c.state = StateIdle
	c.mu.Unlock()

	c.dispose(old)
	if fullscreen {
		var err error
		c.withSurface(func(s Surface) { err = s.SetFullscreen(false) })
		return err
	}
	return nil
}

// OnUserInput forwards keystrokes while connected and drops them otherwise.
func (c *Controller) OnUserInput(p []byte) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(sess.ctx, sendTimeout)
	defer cancel()
	return sess.conn.Send(ctx, termproto.Input{Data: append([]byte(nil), p...)})
}

// Resize records a new surface size. Bursts are coalesced and only the
// last size is sent, once the delay passes and only while connected.
func (c *Controller) Resize(g Geometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !g.Valid() {
		return
	}
	c.pending = g
	if c.resizeTimer == nil {
		c.resizeTimer = time.AfterFunc(c.opts.ResizeDelay, c.flushResize)
	} else {
		c.resizeTimer.Reset(c.opts.ResizeDelay)
	}
}

func (c *Controller) flushResize() {
	c.mu.Lock()
	c.resizeTimer = nil
	g := c.pending
	sess := c.sess
	if sess == nil || c.state != StateConnected || g == sess.sent {
		c.mu.Unlock()
		return
	}
	sess.sent = g
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(sess.ctx, sendTimeout)
	defer cancel()
	sess.conn.Send(ctx, termproto.Resize{Rows: g.Rows, Cols: g.Cols})
}

// ToggleFullscreen flips fullscreen presentation and resyncs the remote
// size once the layout has settled.
func (c *Controller) ToggleFullscreen() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	on := !c.fullscreen
	c.mu.Unlock()

	var err error
	c.withSurface(func(s Surface) { err = s.SetFullscreen(on) })
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.fullscreen = on
	c.scheduleFrameResizeLocked()
	return nil
}

// FullscreenChanged resyncs after fullscreen was entered or left outside the
// controller, e.g. by the platform's own exit affordance.
func (c *Controller) FullscreenChanged(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.fullscreen == on {
		return
	}
	c.fullscreen = on
	c.scheduleFrameResizeLocked()
}

func (c *Controller) scheduleFrameResizeLocked() {
	if c.frameTimer != nil {
		c.frameTimer.Stop()
	}
	c.frameTimer = time.AfterFunc(c.opts.FrameDelay, func() {
		c.Resize(c.surfaceSize())
	})
}

func (c *Controller) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

// Server returns the server the controller was last opened for.
func (c *Controller) Server() ServerRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// detachLocked removes the current session and invalidates anything still
// running on its behalf.
func (c *Controller) detachLocked() (*session, uint64) {
	old := c.sess
	c.sess = nil
	c.gen++
	return old, c.gen
}

// dispose tears a detached session down and waits for its reader.
func (c *Controller) dispose(sess *session) {
	if sess == nil {
		return
	}
	sess.cancel()
	sess.conn.Close()
	<-sess.done
}

// start dials a new session for generation gen.
func (c *Controller) start(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	server, user := c.server, c.user
	c.mu.Unlock()

	if server.IPAddress == "" {
		c.report(gen, StateError, fmt.Sprintf("%s: %v", server.label(), ErrNoAddress))
		return ErrNoAddress
	}

	c.report(gen, StateConnecting, fmt.Sprintf("Connecting to %s...", server.label()))
	geom := c.surfaceSize()

	var conn Conn
	err := c.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		conn, err = c.dialer.Dial(ctx, server.ID, user.ID, geom)
		return err
	})
	if err != nil {
		c.report(gen, StateError, fmt.Sprintf("Failed to connect: %v", err))
		return err
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		gen:    gen,
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
		sent:   geom,
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		closed := c.closed
		c.mu.Unlock()
		cancel()
		conn.Close()
		if closed {
			return ErrClosed
		}
		return context.Canceled
	}
	c.sess = sess
	c.mu.Unlock()

	go c.readLoop(sess)
	return nil
}

func (c *Controller) readLoop(sess *session) {
	defer close(sess.done)
	for {
		msg, err := sess.conn.Recv(sess.ctx)
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			var pe *termproto.ProtocolError
			if errors.As(err, &pe) {
				continue
			}
			c.channelClosed(sess, err)
			return
		}
		c.handle(sess, msg)
	}
}

func (c *Controller) handle(sess *session, msg termproto.ServerMessage) {
	switch m := msg.(type) {
	case termproto.Output:
		if c.current(sess) {
			c.withSurface(func(s Surface) { s.Write(m.Data) })
		}
	case termproto.Status:
		if m.Status == termproto.StatusConnected {
			if c.report(sess.gen, StateConnected, m.Message) {
				// Sizes seen while connecting were not sent.
				c.Resize(c.surfaceSize())
			}
			return
		}
		text := m.Message
		if text == "" {
			text = "Session ended"
		}
		c.report(sess.gen, StateDisconnected, text)
	case termproto.Error:
		c.report(sess.gen, StateError, m.Message)
	case termproto.Ready:
	}
}

// channelClosed handles the end of the channel. An error already shown
// stays the final state.
func (c *Controller) channelClosed(sess *session, err error) {
	sess.conn.Close()
	c.mu.Lock()
	if c.gen != sess.gen || c.state == StateError || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.report(sess.gen, StateDisconnected, closeMessage(err))
}

func closeMessage(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return "Connection closed: " + ce.Reason
		}
		if ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway {
			return "Connection closed"
		}
		return fmt.Sprintf("Connection closed (code %d)", ce.Code)
	}
	return fmt.Sprintf("Connection lost: %v", err)
}

// report sets the state if gen is still current and shows it inline. It
// reports whether the state was applied.
func (c *Controller) report(gen uint64, state ConnState, msg string) bool {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.mu.Unlock()

	c.withSurface(func(s Surface) { s.ShowStatus(state, msg) })
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state, msg)
	}
	return true
}

func (c *Controller) current(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}

func (c *Controller) withSurface(fn func(Surface)) {
	c.surfaceMu.Lock()
	defer c.surfaceMu.Unlock()
	fn(c.surface)
}

func (c *Controller) surfaceSize() Geometry {
	var g Geometry
	c.withSurface(func(s Surface) { g = s.Size() })
	if !g.Valid() {
		return DefaultGeometry
	}
	return g
}
