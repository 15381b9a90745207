package termclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to the panel's REST API with a bearer token.
type APIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// APIError is a non-2xx answer from the panel.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("panel returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("panel returned HTTP %d: %s", e.StatusCode, e.Detail)
}

// SessionInfo describes a live terminal session on the panel.
type SessionInfo struct {
	ID           string    `json:"id"`
	ServerID     uint      `json:"server_id"`
	ServerName   string    `json:"server_name"`
	UserID       uint      `json:"user_id"`
	SourceIP     string    `json:"source_ip"`
	State        string    `json:"state"`
	Rows         uint16    `json:"rows"`
	Cols         uint16    `json:"cols"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Dialer returns a websocket dialer sharing this client's address and token.
func (a *APIClient) Dialer() *WSDialer {
	return &WSDialer{BaseURL: a.BaseURL, Token: a.Token, HTTPClient: a.HTTPClient}
}

// CurrentUser returns the token's user.
func (a *APIClient) CurrentUser(ctx context.Context) (UserRef, error) {
	var resp struct {
		ID uint `json:"id"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/auth/me", &resp); err != nil {
		return UserRef{}, err
	}
	return UserRef{ID: resp.ID}, nil
}

// Server loads the server record a terminal is opened against.
func (a *APIClient) Server(ctx context.Context, id uint) (ServerRef, error) {
	var resp struct {
		ID        uint    `json:"id"`
		Name      string  `json:"name"`
		IPAddress *string `json:"ip_address"`
	}
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/servers/%d", id), &resp); err != nil {
		return ServerRef{}, err
	}
	ref := ServerRef{ID: resp.ID, Name: resp.Name}
	if resp.IPAddress != nil {
		ref.IPAddress = *resp.IPAddress
	}
	return ref, nil
}

// Sessions lists live terminal sessions on a server.
func (a *APIClient) Sessions(ctx context.Context, serverID uint) ([]SessionInfo, error) {
	var resp struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/servers/%d/terminal/sessions", serverID), &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// CloseSession ends one live session on a server.
func (a *APIClient) CloseSession(ctx context.Context, serverID uint, sessionID string) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/servers/%d/terminal/sessions/%s", serverID, sessionID), nil)
}

func (a *APIClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(a.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Detail: body.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
