// Package termproto defines the messages exchanged over a terminal websocket.
//
// Server to client, every frame is a JSON text frame:
//
//	{"type":"status","status":"connected"|"disconnected","message":"..."}
//	{"type":"data","data":"..."}
//	{"type":"error","code":"...","message":"..."}
//	{"type":"ready"}
//
// Client to server, a binary frame carries raw keystroke bytes. Text frames
// are JSON, either {"type":"data","data":"..."} or
// {"type":"resize","rows":N,"cols":N}.
//
// Frames are decoded into the [ServerMessage] and [ClientMessage] variants
// here so nothing past the transport handles untyped payloads.
//
// Output travels as a JSON string, so bytes that are not valid UTF-8 are
// replaced with U+FFFD when encoded. Callers split shell output on rune
// boundaries; only bytes that are invalid in the shell stream itself are
// lost.
package termproto

import (
	"encoding/json"
	"fmt"
	"math"
)

// Wire type tags.
const (
	TypeStatus = "status"
	TypeData   = "data"
	TypeError  = "error"
	TypeReady  = "ready"
	TypeResize = "resize"
)

// Status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ServerMessage is one of Status, Output, Error or Ready.
type ServerMessage interface {
	serverMessage()
}

type Status struct {
	Status  string
	Message string
}

// Output carries shell output bytes.
type Output struct {
	Data []byte
}

type Error struct {
	Code    string
	Message string
}

// Ready signals the shell accepts input.
type Ready struct{}

func (Status) serverMessage() {}
func (Output) serverMessage() {}
func (Error) serverMessage()  {}
func (Ready) serverMessage()  {}

// ClientMessage is one of Input or Resize.
type ClientMessage interface {
	clientMessage()
}

// Input carries keystroke bytes.
type Input struct {
	Data []byte
}

type Resize struct {
	Rows uint16
	Cols uint16
}

func (Input) clientMessage()  {}
func (Resize) clientMessage() {}

// ProtocolError reports a frame that could not be decoded.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type envelope struct {
	Type    string  `json:"type"`
	Status  string  `json:"status,omitempty"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
	Data    *string `json:"data,omitempty"`
	Rows    *int64  `json:"rows,omitempty"`
	Cols    *int64  `json:"cols,omitempty"`
}

// EncodeServer marshals a server message into a JSON text frame.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case Status:
		env = envelope{Type: TypeStatus, Status: m.Status, Message: m.Message}
	case Output:
		s := string(m.Data)
		env = envelope{Type: TypeData, Data: &s}
	case Error:
		env = envelope{Type: TypeError, Code: m.Code, Message: m.Message}
	case Ready:
		env = envelope{Type: TypeReady}
	default:
		return nil, fmt.Errorf("encode server message: unknown type %T", msg)
	}
	return json.Marshal(env)
}

// DecodeServer parses a JSON text frame sent by the server.
func DecodeServer(payload []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Err: err}
	}
	switch env.Type {
	case TypeStatus:
		if env.Status != StatusConnected && env.Status != StatusDisconnected {
			return nil, &ProtocolError{Reason: fmt.Sprintf("unknown status %q", env.Status)}
		}
		return Status{Status: env.Status, Message: env.Message}, nil
	case TypeData:
		if env.Data == nil {
			return nil, &ProtocolError{Reason: "data message without data"}
		}
		return Output{Data: []byte(*env.Data)}, nil
	case TypeError:
		return Error{Code: env.Code, Message: env.Message}, nil
	case TypeReady:
		return Ready{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// EncodeClient marshals a client message. Input is sent as a binary frame,
// everything else as JSON text.
func EncodeClient(msg ClientMessage) (binary bool, payload []byte, err error) {
	switch m := msg.(type) {
	case Input:
		return true, m.Data, nil
	case Resize:
		rows, cols := int64(m.Rows), int64(m.Cols)
		payload, err = json.Marshal(envelope{Type: TypeResize, Rows: &rows, Cols: &cols})
		return false, payload, err
	default:
		return false, nil, fmt.Errorf("encode client message: unknown type %T", msg)
	}
}

// DecodeClient parses a frame sent by the client.
func DecodeClient(binary bool, payload []byte) (ClientMessage, error) {
	if binary {
		return Input{Data: payload}, nil
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Err: err}
	}
	switch env.Type {
	case TypeData:
		if env.Data == nil {
			return nil, &ProtocolError{Reason: "data message without data"}
		}
		return Input{Data: []byte(*env.Data)}, nil
	case TypeResize:
		if env.Rows == nil || env.Cols == nil {
			return nil, &ProtocolError{Reason: "resize requires rows and cols"}
		}
		rows, cols := *env.Rows, *env.Cols
		if rows <= 0 || cols <= 0 || rows > math.MaxUint16 || cols > math.MaxUint16 {
			return nil, &ProtocolError{Reason: fmt.Sprintf("invalid resize %dx%d", rows, cols)}
		}
		return Resize{Rows: uint16(rows), Cols: uint16(cols)}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}
