package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"
)

// startShellServer runs an in-process SSH server that accepts only
// clientKey. Shells report their PTY, report every window change and echo
// input. Typing "exit\r" ends the shell with status 0.
func startShellServer(t *testing.T, clientKey ssh.PublicKey) string {
	t.Helper()

	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			pty, winCh, isPty := s.Pty()
			if !isPty {
				io.WriteString(s, "no pty\n")
				s.Exit(1)
				return
			}
			fmt.Fprintf(s, "pty %s %dx%d\n", pty.Term, pty.Window.Width, pty.Window.Height)
			go func() {
				for win := range winCh {
					fmt.Fprintf(s, "window %dx%d\n", win.Width, win.Height)
				}
			}()
			buf := make([]byte, 1024)
			var line strings.Builder
			for {
				n, err := s.Read(buf)
				if err != nil {
					return
				}
				s.Write(buf[:n])
				line.Write(buf[:n])
				if strings.Contains(line.String(), "exit\r") {
					s.Exit(0)
					return
				}
			}
		},
		PublicKeyHandler: func(_ gliderssh.Context, key gliderssh.PublicKey) bool {
			return gliderssh.KeysEqual(key, clientKey)
		},
	}
	srv.AddHostKey(testSigner(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

func readUntil(t *testing.T, r io.Reader, target string) string {
	t.Helper()
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		var sb strings.Builder
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			sb.Write(buf[:n])
			if strings.Contains(sb.String(), target) {
				done <- result{out: sb.String()}
				return
			}
			if err != nil {
				done <- result{out: sb.String(), err: err}
				return
			}
		}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("read until %q: %v (got %q)", target, res.err, res.out)
		}
		return res.out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", target)
		return ""
	}
}

func TestSSHDialer_OpensPTYShell(t *testing.T) {
	signer := testSigner(t)
	addr := startShellServer(t, signer.PublicKey())

	d := &SSHDialer{User: "root", Timeout: 5 * time.Second}
	shell, err := d.Dial(context.Background(), addr, signer, Geometry{Rows: 30, Cols: 100})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer shell.Close()

	readUntil(t, shell, "pty xterm-256color 100x30")

	if _, err := shell.Write([]byte("ls\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil(t, shell, "ls")

	if err := shell.Resize(Geometry{Rows: 40, Cols: 120}); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	readUntil(t, shell, "window 120x40")
}

func TestSSHDialer_ExitGivesEOF(t *testing.T) {
	signer := testSigner(t)
	addr := startShellServer(t, signer.PublicKey())

	shell, err := (&SSHDialer{}).Dial(context.Background(), addr, signer, DefaultGeometry)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer shell.Close()

	shell.Write([]byte("exit\r"))
	buf := make([]byte, 1024)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("shell did not end")
		default:
		}
		_, err := shell.Read(buf)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Read after exit = %v, want io.EOF", err)
		}
		return
	}
}

func TestSSHDialer_RejectedKey(t *testing.T) {
	addr := startShellServer(t, testSigner(t).PublicKey())

	_, err := (&SSHDialer{Timeout: 5 * time.Second}).Dial(context.Background(), addr, testSigner(t), DefaultGeometry)
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if !strings.Contains(err.Error(), "handshake") {
		t.Errorf("error = %v", err)
	}
}

func TestSSHDialer_HostKeyMismatch(t *testing.T) {
	signer := testSigner(t)
	addr := startShellServer(t, signer.PublicKey())

	d := &SSHDialer{HostKeyCallback: ssh.FixedHostKey(testSigner(t).PublicKey())}
	if _, err := d.Dial(context.Background(), addr, signer, DefaultGeometry); err == nil {
		t.Fatal("expected host key mismatch")
	}
}

func TestSSHDialer_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = (&SSHDialer{Timeout: time.Second}).Dial(context.Background(), addr, testSigner(t), DefaultGeometry)
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSSHDialer_ContextCancelled(t *testing.T) {
	// A listener that accepts but never speaks SSH.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = (&SSHDialer{Timeout: 10 * time.Second}).Dial(ctx, ln.Addr().String(), testSigner(t), DefaultGeometry)
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Dial ignored context deadline (took %s)", time.Since(start))
	}
}
