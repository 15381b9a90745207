package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/vpsdeck/panel/internal/sshkeys"
)

// PublicKeySource yields the system credential's public key.
type PublicKeySource interface {
	PublicKey(ctx context.Context) (string, error)
}

// SystemKey is set from main.go during init.
var SystemKey PublicKeySource

// GetSystemKey returns the public half of the system credential in
// authorized_keys format, for installing on new servers. Admin only.
// GET /api/v1/system-key
func GetSystemKey(w http.ResponseWriter, r *http.Request) {
	if SystemKey == nil {
		writeError(w, http.StatusServiceUnavailable, "System key not initialized")
		return
	}
	pub, err := SystemKey.PublicKey(r.Context())
	if err != nil {
		log.Printf("[system-key] failed to load public key: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load system key")
		return
	}
	fp, err := sshkeys.GetPublicKeyFingerprint([]byte(pub))
	if err != nil {
		log.Printf("[system-key] failed to fingerprint public key: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load system key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key":  pub,
		"fingerprint": fp,
	})
}
