package handlers

import (
	"context"
	"errors"

	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/sshterminal"
)

// ServerLookup reads servers from the database for the terminal manager.
type ServerLookup struct{}

func (ServerLookup) LookupServer(ctx context.Context, id uint) (sshterminal.ServerRecord, error) {
	srv, err := database.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return sshterminal.ServerRecord{}, sshterminal.ErrServerNotFound
		}
		return sshterminal.ServerRecord{}, err
	}
	return sshterminal.ServerRecord{
		ID:        srv.ID,
		Name:      srv.Name,
		IPAddress: srv.Address(),
		Port:      srv.SSHPort,
		Status:    srv.Status,
		UserID:    srv.UserID,
	}, nil
}
