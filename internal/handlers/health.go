package handlers

import (
	"net/http"

	"github.com/vpsdeck/panel/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.PingContext(r.Context()); err == nil {
				dbStatus = "connected"
			}
		}
	}

	terminalStatus := "disabled"
	var openShells int64
	var activeSessions int
	if TerminalMgr != nil {
		terminalStatus = "enabled"
		openShells = TerminalMgr.OpenShells()
		activeSessions = TerminalMgr.ActiveCount()
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":          status,
		"database":        dbStatus,
		"terminal":        terminalStatus,
		"open_shells":     openShells,
		"active_sessions": activeSessions,
	})
}
