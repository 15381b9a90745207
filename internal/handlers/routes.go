package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/vpsdeck/panel/internal/middleware"
)

// NewRouter builds the HTTP API. Package-level dependencies (SessionStore,
// TerminalMgr, SystemKey, RecordingDir) must be set first.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(SessionStore))

			r.Get("/auth/me", GetCurrentUser)
			r.Post("/auth/session", CreateSession)
			r.Post("/auth/logout", Logout)

			r.Get("/servers", ListServers)
			r.Get("/servers/{id}", GetServer)
			r.Get("/servers/{id}/terminal/sessions", ListTerminalSessions)
			r.Delete("/servers/{id}/terminal/sessions", CloseServerTerminalSessions)
			r.Delete("/servers/{id}/terminal/sessions/{sessionId}", CloseTerminalSession)

			r.Get("/terminal", TerminalWS)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/system-key", GetSystemKey)
				r.Get("/terminal/sessions", ListAllTerminalSessions)
				r.Get("/terminal/recordings/{sessionId}", GetTerminalRecording)
				r.Get("/terminal/audit", GetTerminalAuditLogs)
				r.Post("/terminal/audit/purge", PurgeTerminalAuditLogs)
			})
		})
	})

	return r
}
