package handlers

import (
	"net/http"
	"time"

	"github.com/vpsdeck/panel/internal/auth"
	"github.com/vpsdeck/panel/internal/middleware"
)

// SessionStore is set from main.go during init.
var SessionStore *auth.SessionStore

// GetCurrentUser returns the authenticated user.
// GET /api/v1/auth/me
func GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

// CreateSession exchanges the caller's bearer token for a browser session
// cookie. Browsers cannot set headers on a websocket upgrade, so the
// terminal page relies on the cookie.
// POST /api/v1/auth/session
func CreateSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if SessionStore == nil {
		writeError(w, http.StatusServiceUnavailable, "Sessions not available")
		return
	}
	tok, err := SessionStore.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	expires := time.Now().Add(auth.SessionDuration)
	http.SetCookie(w, sessionCookie(r, tok, int(auth.SessionDuration.Seconds())))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"expires_at": expires.UTC(),
	})
}

// Logout ends the caller's browser session, or every session of the
// caller with ?all=true.
// POST /api/v1/auth/logout
func Logout(w http.ResponseWriter, r *http.Request) {
	if SessionStore != nil {
		if r.URL.Query().Get("all") == "true" {
			if user := middleware.GetUser(r); user != nil {
				SessionStore.DeleteByUserID(user.ID)
			}
		} else if tok := auth.TokenFromRequest(r); tok != "" {
			SessionStore.Delete(tok)
		}
	}
	http.SetCookie(w, sessionCookie(r, "", -1))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func sessionCookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}
