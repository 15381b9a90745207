package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vpsdeck/panel/internal/auth"
	"github.com/vpsdeck/panel/internal/config"
	"github.com/vpsdeck/panel/internal/database"
)

type contextKey string

const userContextKey contextKey = "user"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAuth resolves the caller from a browser session (cookie or bearer)
// or a stored API token, and rejects the request otherwise.
func RequireAuth(store *auth.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Cfg.AuthDisabled {
				user, err := database.GetFirstAdmin()
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "No admin user found"})
					return
				}
				next.ServeHTTP(w, WithUser(r, user))
				return
			}

			user := resolveUser(store, auth.TokenFromRequest(r))
			if user == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			next.ServeHTTP(w, WithUser(r, user))
		})
	}
}

func resolveUser(store *auth.SessionStore, token string) *database.User {
	if token == "" {
		return nil
	}
	if userID, ok := store.Get(token); ok {
		user, err := database.GetUserByID(userID)
		if err != nil {
			return nil
		}
		return user
	}
	user, err := database.GetUserByTokenHash(auth.HashToken(token))
	if err != nil {
		return nil
	}
	return user
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(GetUser(r)) {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser attaches user to the request context.
func WithUser(r *http.Request, user *database.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}

func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}

func IsAdmin(user *database.User) bool {
	return user != nil && user.Role == "admin"
}

// CanManageServer reports whether the caller owns srv or is an admin.
func CanManageServer(r *http.Request, srv *database.Server) bool {
	user := GetUser(r)
	if user == nil || srv == nil {
		return false
	}
	return IsAdmin(user) || srv.UserID == user.ID
}
