package sshterminal

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/vpsdeck/panel/internal/logutil"
	"github.com/vpsdeck/panel/internal/termproto"
)

var (
	// ErrServerNotFound is returned by a ServerLookup when no server has the ID.
	ErrServerNotFound = errors.New("server not found")

	// ErrAuthorization means the server does not exist or is not owned by
	// the requesting user. Both cases produce the same error so the response
	// does not reveal which servers exist.
	ErrAuthorization = errors.New("server not found or access denied")

	// ErrNotReady means the server has no address or is not in a state
	// where a shell is listening.
	ErrNotReady = errors.New("server is not ready for terminal access")

	// ErrIdleTimeout ends sessions with no traffic for the configured period.
	ErrIdleTimeout = errors.New("session idle timeout")

	// ErrManagerStopped is returned for sessions started during shutdown.
	ErrManagerStopped = errors.New("terminal service is shutting down")

	// ErrSessionClosed ends a session closed through the management API.
	ErrSessionClosed = errors.New("session closed by administrator")

	errShellExited  = errors.New("shell exited")
	errClientClosed = errors.New("client closed the connection")
)

// BackingError is a failure to establish or keep the SSH connection to the
// target server.
type BackingError struct {
	Op  string
	Err error
}

func (e *BackingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackingError) Unwrap() error { return e.Err }

// Wire error codes.
const (
	CodeUnauthorized   = "unauthorized"
	CodeNotReady       = "not_ready"
	CodeBackingFailure = "backing_failure"
	CodeProtocol       = "protocol_error"
	CodeIdleTimeout    = "idle_timeout"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// Websocket close codes sent with each error class.
const (
	CloseProtocol       websocket.StatusCode = 4400
	CloseUnauthorized   websocket.StatusCode = 4403
	CloseIdleTimeout    websocket.StatusCode = 4408
	CloseNotReady       websocket.StatusCode = 4409
	CloseInternal       websocket.StatusCode = 4500
	CloseBackingFailure websocket.StatusCode = 4502
	CloseUnavailable    websocket.StatusCode = 4503
)

// ErrorCode maps err to its wire code.
func ErrorCode(err error) string {
	var be *BackingError
	var pe *termproto.ProtocolError
	switch {
	case errors.Is(err, ErrAuthorization):
		return CodeUnauthorized
	case errors.Is(err, ErrNotReady):
		return CodeNotReady
	case errors.Is(err, ErrIdleTimeout):
		return CodeIdleTimeout
	case errors.Is(err, ErrManagerStopped):
		return CodeUnavailable
	case errors.As(err, &be):
		return CodeBackingFailure
	case errors.As(err, &pe):
		return CodeProtocol
	default:
		return CodeInternal
	}
}

// CloseCode maps err to the websocket close code used when it ends a session.
func CloseCode(err error) websocket.StatusCode {
	switch ErrorCode(err) {
	case CodeUnauthorized:
		return CloseUnauthorized
	case CodeNotReady:
		return CloseNotReady
	case CodeIdleTimeout:
		return CloseIdleTimeout
	case CodeUnavailable:
		return CloseUnavailable
	case CodeBackingFailure:
		return CloseBackingFailure
	case CodeProtocol:
		return CloseProtocol
	default:
		return CloseInternal
	}
}

// ClientMessage returns the text shown to the user for err, with key
// material and control characters removed.
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "session closed"
	}
	return logutil.SanitizeForLog(logutil.RedactSecrets(err.Error()))
}
