package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Shell is a live remote shell: output is read from it, input is written to
// it, and its pseudo-terminal can be resized.
type Shell interface {
	io.Reader
	io.Writer
	Resize(g Geometry) error
	Close() error
}

// Dialer opens a Shell on the host at addr using the system credential.
type Dialer interface {
	Dial(ctx context.Context, addr string, signer ssh.Signer, g Geometry) (Shell, error)
}

const (
	defaultDialTimeout = 15 * time.Second
	defaultTermType    = "xterm-256color"

	// exitWaitTimeout bounds how long Read waits for the exit status after
	// the output stream ends.
	exitWaitTimeout = 5 * time.Second
)

// SSHDialer opens shells over golang.org/x/crypto/ssh. Every shell gets its
// own client connection, closed together with the shell.
type SSHDialer struct {
	User            string
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
	TermType        string
}

func (d *SSHDialer) Dial(ctx context.Context, addr string, signer ssh.Signer, g Geometry) (Shell, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	user := d.User
	if user == "" {
		user = "root"
	}
	termType := d.TermType
	if termType == "" {
		termType = defaultTermType
	}
	if !g.Valid() {
		g = DefaultGeometry
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake does not take a context; bound it with a deadline and
	// close the socket if ctx ends first.
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	netConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		stop()
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	if !stop() {
		sshConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	shell, err := startShell(client, termType, g)
	if err != nil {
		client.Close()
		return nil, err
	}
	return shell, nil
}

func startShell(client *ssh.Client, termType string, g Geometry) (*sshShell, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, int(g.Rows), int(g.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshShell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

type sshShell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	waitOnce sync.Once
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// Read returns io.EOF only when the remote shell exited. If the output
// stream ends without an exit status the connection was lost, and Read
// returns an error instead.
func (s *sshShell) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *sshShell) wait() error {
	s.waitOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- s.session.Wait() }()

		var err error
		select {
		case err = <-done:
		case <-time.After(exitWaitTimeout):
			err = errors.New("timed out waiting for exit status")
		}

		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case err == nil, errors.As(err, &exitErr):
			s.waitErr = nil
		case errors.As(err, &missing):
			s.waitErr = errors.New("connection to server lost")
		default:
			s.waitErr = fmt.Errorf("connection to server lost: %w", err)
		}
	})
	return s.waitErr
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Resize(g Geometry) error {
	return s.session.WindowChange(int(g.Rows), int(g.Cols))
}

// Close ends the session and the client connection. It is safe to call
// more than once.
func (s *sshShell) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		s.session.Close()
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
