package sshterminal

import (
	"context"
	"errors"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"github.com/vpsdeck/panel/internal/termproto"
	"golang.org/x/sync/errgroup"
)

const outputBufferSize = 32 * 1024

// bridge relays between shell and t until one side ends. It always returns
// a non-nil error naming the side that ended first.
func (m *Manager) bridge(ctx context.Context, sess *Session, shell Shell, t Transport, rec *Recording) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pumpOutput(gctx, sess, shell, t, rec) })
	g.Go(func() error { return m.pumpInput(gctx, sess, shell, t, rec) })
	g.Go(func() error {
		// Unblocks pumpOutput's Read once either side has ended.
		<-gctx.Done()
		shell.Close()
		return nil
	})
	if m.cfg.IdleTimeout > 0 {
		g.Go(func() error { return watchIdle(gctx, sess, m.cfg.IdleTimeout) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

func pumpOutput(ctx context.Context, sess *Session, shell Shell, t Transport, rec *Recording) error {
	buf := make([]byte, outputBufferSize)
	var carry []byte

	emit := func(chunk []byte) error {
		sess.touch()
		rec.RecordOutput(chunk)
		if err := t.Send(ctx, termproto.Output{Data: chunk}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errClientClosed
		}
		return nil
	}

	for {
		n, err := shell.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := utf8Boundary(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				if serr := emit(data[:cut]); serr != nil {
					return serr
				}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				if serr := emit(carry); serr != nil {
					return serr
				}
			}
			if errors.Is(err, io.EOF) {
				return errShellExited
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &BackingError{Op: "read shell output", Err: err}
		}
	}
}

func (m *Manager) pumpInput(ctx context.Context, sess *Session, shell Shell, t Transport, rec *Recording) error {
	limiter := newMessageLimiter(m.cfg.RateLimit, m.cfg.RateBurst)
	var dropped int

	for {
		msg, err := t.Recv(ctx)
		if err != nil {
			var pe *termproto.ProtocolError
			if errors.As(err, &pe) {
				log.Printf("[terminal] session %s: ignoring malformed message: %v", sess.ID, pe)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errClientClosed
		}

		if !limiter.Allow() {
			dropped++
			if dropped == 1 || dropped%100 == 0 {
				log.Printf("[terminal] session %s: rate limit exceeded, %d message(s) dropped", sess.ID, dropped)
			}
			continue
		}

		switch msg := msg.(type) {
		case termproto.Input:
			if len(msg.Data) > MaxInputMessageSize {
				log.Printf("[terminal] session %s: dropping %d byte input message (limit %d)", sess.ID, len(msg.Data), MaxInputMessageSize)
				continue
			}
			// Only data counts as activity; resizes alone let a session idle out.
			sess.touch()
			if _, err := shell.Write(msg.Data); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &BackingError{Op: "write shell input", Err: err}
			}
		case termproto.Resize:
			g := Geometry{Rows: msg.Rows, Cols: msg.Cols}.Clamp()
			if !g.Valid() || !sess.swapGeometry(g) {
				continue
			}
			if err := shell.Resize(g); err != nil {
				log.Printf("[terminal] session %s: resize to %s failed: %v", sess.ID, g, err)
				continue
			}
			rec.RecordResize(g)
		}
	}
}

func watchIdle(ctx context.Context, sess *Session, timeout time.Duration) error {
	interval := timeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if sess.idleFor() >= timeout {
				return ErrIdleTimeout
			}
		}
	}
}

// utf8Boundary returns the length of the longest prefix of b that does not
// end inside a multi-byte rune.
func utf8Boundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
