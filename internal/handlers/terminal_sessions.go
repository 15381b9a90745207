package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/middleware"
	"github.com/vpsdeck/panel/internal/sshterminal"
)

// RecordingDir is where session recordings are written. Empty when
// recording is disabled.
var RecordingDir string

// loadManagedServer returns the server named by the {id} URL parameter if
// the caller owns it or is an admin. Unknown and foreign servers both
// produce 404.
func loadManagedServer(w http.ResponseWriter, r *http.Request) (*database.Server, bool) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return nil, false
	}
	srv, err := database.GetServer(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Server not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to load server")
		return nil, false
	}
	if !middleware.CanManageServer(r, srv) {
		writeError(w, http.StatusNotFound, "Server not found")
		return nil, false
	}
	return srv, true
}

// ListTerminalSessions returns the live terminal sessions on a server.
// GET /api/v1/servers/{id}/terminal/sessions
func ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	srv, ok := loadManagedServer(w, r)
	if !ok {
		return
	}
	sessions := []sshterminal.SessionInfo{}
	if TerminalMgr != nil {
		sessions = TerminalMgr.Sessions(srv.ID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// CloseTerminalSession ends one session on a server.
// DELETE /api/v1/servers/{id}/terminal/sessions/{sessionId}
func CloseTerminalSession(w http.ResponseWriter, r *http.Request) {
	srv, ok := loadManagedServer(w, r)
	if !ok {
		return
	}
	if TerminalMgr == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	info, found := TerminalMgr.Get(sessionID)
	if !found || info.ServerID != srv.ID {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	TerminalMgr.CloseSession(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": sessionID})
}

// CloseServerTerminalSessions ends every session on a server.
// DELETE /api/v1/servers/{id}/terminal/sessions
func CloseServerTerminalSessions(w http.ResponseWriter, r *http.Request) {
	srv, ok := loadManagedServer(w, r)
	if !ok {
		return
	}
	closed := 0
	if TerminalMgr != nil {
		closed = TerminalMgr.CloseAllForServer(srv.ID)
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": closed})
}

// ListAllTerminalSessions returns every live session. Admin only.
// GET /api/v1/terminal/sessions
func ListAllTerminalSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []sshterminal.SessionInfo{}
	if TerminalMgr != nil {
		sessions = TerminalMgr.Sessions(0)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":    sessions,
		"open_shells": openShells(),
	})
}

// GetTerminalRecording serves a session's asciinema cast. Admin only.
// GET /api/v1/terminal/recordings/{sessionId}
func GetTerminalRecording(w http.ResponseWriter, r *http.Request) {
	if RecordingDir == "" {
		writeError(w, http.StatusNotFound, "Recording is disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}
	f, err := os.Open(sshterminal.RecordingPath(RecordingDir, sessionID))
	if err != nil {
		writeError(w, http.StatusNotFound, "Recording not found")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read recording")
		return
	}
	w.Header().Set("Content-Type", "application/x-asciicast")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sessionID+`.cast"`)
	http.ServeContent(w, r, sessionID+".cast", st.ModTime(), f)
}

func openShells() int64 {
	if TerminalMgr == nil {
		return 0
	}
	return TerminalMgr.OpenShells()
}
