package termclient

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/term"
)

// ConnState is the connection indicator shown to the user.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Geometry is a terminal size in character cells.
type Geometry struct {
	Rows uint16
	Cols uint16
}

func (g Geometry) Valid() bool { return g.Rows > 0 && g.Cols > 0 }

func (g Geometry) String() string { return fmt.Sprintf("%dx%d", g.Cols, g.Rows) }

// DefaultGeometry is used when a surface cannot report its size.
var DefaultGeometry = Geometry{Rows: 24, Cols: 80}

// Surface is the terminal display a Controller drives. The controller never
// calls a Surface from more than one goroutine at a time.
type Surface interface {
	// Write renders shell output.
	Write(p []byte) (int, error)
	// Clear wipes the display.
	Clear()
	// ShowStatus renders a status line inline with the terminal output.
	ShowStatus(state ConnState, msg string)
	// Size reports the visible area.
	Size() Geometry
	// SetFullscreen enters or leaves fullscreen presentation.
	SetFullscreen(on bool) error
}

// FormatStatus renders a status line the way the TTY surface shows it.
func FormatStatus(state ConnState, msg string) string {
	color := "33" // yellow
	switch state {
	case StateConnected:
		color = "32"
	case StateError:
		color = "31"
	case StateDisconnected:
		color = "90"
	}
	if msg == "" {
		return fmt.Sprintf("\x1b[%sm[%s]\x1b[0m", color, state)
	}
	return fmt.Sprintf("\x1b[%sm[%s]\x1b[0m %s", color, state, msg)
}

const (
	escClear         = "\x1b[H\x1b[2J"
	escAltScreenOn   = "\x1b[?1049h\x1b[H"
	escAltScreenOff  = "\x1b[?1049l"
	statusLineFormat = "\r\n%s\r\n"
)

// TTY is a Surface backed by a local terminal. Fullscreen uses the
// alternate screen buffer.
type TTY struct {
	out io.Writer
	fd  int

	mu         sync.Mutex
	fullscreen bool
}

// NewTTY returns a surface writing to out and sizing from the terminal fd.
func NewTTY(out io.Writer, fd int) *TTY {
	return &TTY{out: out, fd: fd}
}

func (t *TTY) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Write(p)
}

func (t *TTY) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.out, escClear)
}

func (t *TTY) ShowStatus(state ConnState, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, statusLineFormat, FormatStatus(state, msg))
}

func (t *TTY) Size() Geometry {
	if !term.IsTerminal(t.fd) {
		return DefaultGeometry
	}
	cols, rows, err := term.GetSize(t.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return DefaultGeometry
	}
	return Geometry{Rows: uint16(rows), Cols: uint16(cols)}
}

func (t *TTY) SetFullscreen(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on == t.fullscreen {
		return nil
	}
	seq := escAltScreenOff
	if on {
		seq = escAltScreenOn
	}
	if _, err := io.WriteString(t.out, seq); err != nil {
		return fmt.Errorf("set fullscreen: %w", err)
	}
	t.fullscreen = on
	return nil
}

// Fullscreen reports whether the alternate screen is active.
func (t *TTY) Fullscreen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullscreen
}
