package sshterminal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recording writes terminal output as an asciinema v2 cast: a JSON header
// line followed by one [elapsed, type, data] array per event. Only output
// ("o") and resize ("r") events are written; keystrokes are never recorded.
// It is safe for concurrent use, and a nil *Recording records nothing.
type Recording struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	start  time.Time
	err    error
}

type castHeader struct {
	Version   int               `json:"version"`
	Width     uint16            `json:"width"`
	Height    uint16            `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// RecordingPath returns the cast file for a session inside dir.
func RecordingPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".cast")
}

// CreateRecording creates the cast file for sessionID in dir.
func CreateRecording(dir, sessionID string, g Geometry, title string) (*Recording, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	f, err := os.OpenFile(RecordingPath(dir, sessionID), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := NewRecording(f, g, title)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewRecording writes the cast header to w and returns a Recording over it.
func NewRecording(w io.Writer, g Geometry, title string) (*Recording, error) {
	start := time.Now()
	hdr, err := json.Marshal(castHeader{
		Version:   2,
		Width:     g.Cols,
		Height:    g.Rows,
		Timestamp: start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": defaultTermType},
	})
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(w)
	bw.Write(hdr)
	if err := bw.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("write recording header: %w", err)
	}
	return &Recording{w: bw, start: start}, nil
}

func (r *Recording) RecordOutput(data []byte) {
	if r == nil || len(data) == 0 {
		return
	}
	r.event("o", string(data))
}

func (r *Recording) RecordResize(g Geometry) {
	if r == nil {
		return
	}
	r.event("r", fmt.Sprintf("%dx%d", g.Cols, g.Rows))
}

func (r *Recording) event(kind, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	elapsed := math.Round(time.Since(r.start).Seconds()*1e6) / 1e6
	line, err := json.Marshal([]any{elapsed, kind, data})
	if err != nil {
		r.err = err
		return
	}
	r.w.Write(line)
	r.err = r.w.WriteByte('\n')
}

// Err returns the first write error, after which events are dropped.
func (r *Recording) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes buffered events and closes the underlying file, if any.
func (r *Recording) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}
