package handlers

import (
	"net/http"

	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/middleware"
)

type serverResponse struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	IPAddress *string `json:"ip_address"`
	SSHPort   int     `json:"ssh_port"`
	Status    string  `json:"status"`
	UserID    uint    `json:"user_id"`
}

func toServerResponse(s *database.Server) serverResponse {
	return serverResponse{
		ID:        s.ID,
		Name:      s.Name,
		IPAddress: s.IPAddress,
		SSHPort:   s.SSHPort,
		Status:    s.Status,
		UserID:    s.UserID,
	}
}

// ListServers returns the caller's servers.
// GET /api/v1/servers
func ListServers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	servers, err := database.ListServersByUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}
	resp := make([]serverResponse, 0, len(servers))
	for i := range servers {
		resp = append(resp, toServerResponse(&servers[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetServer returns one server the caller owns.
// GET /api/v1/servers/{id}
func GetServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := loadManagedServer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(srv))
}
