package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/vpsdeck.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`
	SeedFile     string `envconfig:"SEED_FILE" default:""`

	// System credential used to reach provisioned servers.
	CredentialSource string        `envconfig:"CREDENTIAL_SOURCE" default:"file"`
	SSHUser          string        `envconfig:"SSH_USER" default:"root"`
	SSHPort          int           `envconfig:"SSH_PORT" default:"22"`
	SSHKnownHosts    string        `envconfig:"SSH_KNOWN_HOSTS" default:""`
	SSHDialTimeout   time.Duration `envconfig:"SSH_DIAL_TIMEOUT" default:"15s"`

	// Terminal session settings
	ReachableStatuses   []string      `envconfig:"REACHABLE_STATUSES" default:"active,running"`
	TerminalIdleTimeout time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"0s"`
	TerminalRateLimit   float64       `envconfig:"TERMINAL_RATE_LIMIT" default:"100"`
	TerminalRateBurst   int           `envconfig:"TERMINAL_RATE_BURST" default:"200"`
	// TerminalRecordingDir enables asciinema recordings of session output.
	TerminalRecordingDir string `envconfig:"TERMINAL_RECORDING_DIR" default:""`
	// AllowedOrigins are extra websocket origin patterns (host globs) accepted
	// besides same-origin requests.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	AuditPruneSchedule string `envconfig:"AUDIT_PRUNE_SCHEDULE" default:"@daily"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("VPSDECK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg.ReachableStatuses = normalizeStatuses(Cfg.ReachableStatuses)
}

// ReachableSet returns the configured reachable statuses as a lookup set.
func (s Settings) ReachableSet() map[string]bool {
	set := make(map[string]bool, len(s.ReachableStatuses))
	for _, st := range normalizeStatuses(s.ReachableStatuses) {
		set[st] = true
	}
	return set
}

func normalizeStatuses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
