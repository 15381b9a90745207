package database

import "time"

// Server status values written by the provisioning and power workflows.
const (
	StatusProvisioning = "provisioning"
	StatusActive       = "active"
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusRebooting    = "rebooting"
	StatusError        = "error"
)

type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	Role      string    `gorm:"not null;default:user" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Server is a provisioned VPS. IPAddress is nil until the provider assigns one.
type Server struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	IPAddress *string   `json:"ip_address"`
	SSHPort   int       `gorm:"not null;default:0" json:"ssh_port"`
	Status    string    `gorm:"not null;default:provisioning;index" json:"status"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Address returns the server's IP address or "" when none is assigned.
func (s *Server) Address() string {
	if s.IPAddress == nil {
		return ""
	}
	return *s.IPAddress
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TerminalAuditLog records terminal session lifecycle events.
type TerminalAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"size:64;index" json:"session_id"`
	ServerID   uint      `gorm:"index" json:"server_id"`
	ServerName string    `json:"server_name"`
	UserID     uint      `gorm:"index" json:"user_id"`
	EventType  string    `gorm:"not null;index" json:"event_type"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `json:"details"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// APIToken is a long-lived bearer token. Only the SHA-256 of the token is stored.
type APIToken struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	TokenHash string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
