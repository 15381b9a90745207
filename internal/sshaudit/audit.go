package sshaudit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/logutil"
	"github.com/vpsdeck/panel/internal/sshterminal"
	"gorm.io/gorm"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// Auditor writes terminal audit events to the database and the standard
// logger. It is safe for concurrent use.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor that writes to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Record implements sshterminal.AuditSink. Write failures are logged.
func (a *Auditor) Record(ev sshterminal.AuditEvent) {
	a.Log(ev)
}

// Log writes ev to the database and standard logger.
func (a *Auditor) Log(ev sshterminal.AuditEvent) error {
	record := database.TerminalAuditLog{
		SessionID:  ev.SessionID,
		ServerID:   ev.ServerID,
		ServerName: ev.ServerName,
		UserID:     ev.UserID,
		EventType:  ev.Type,
		SourceIP:   ev.SourceIP,
		Details:    logutil.RedactSecrets(ev.Details),
		Duration:   ev.Duration.Milliseconds(),
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[terminal-audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[terminal-audit] %s session=%s server=%d (%s) user=%d ip=%s details=%s",
		ev.Type,
		ev.SessionID,
		ev.ServerID,
		logutil.SanitizeForLog(ev.ServerName),
		ev.UserID,
		logutil.SanitizeForLog(ev.SourceIP),
		logutil.SanitizeForLog(record.Details),
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	ServerID  uint
	UserID    uint
	SessionID string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.TerminalAuditLog `json:"entries"`
	Total   int64                       `json:"total"`
	Limit   int                         `json:"limit"`
	Offset  int                         `json:"offset"`
}

// Query retrieves audit log entries matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.TerminalAuditLog{})

	if opts.ServerID > 0 {
		tx = tx.Where("server_id = ?", opts.ServerID)
	}
	if opts.UserID > 0 {
		tx = tx.Where("user_id = ?", opts.UserID)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.TerminalAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// configured retention period when days is 0. Returns the number deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.TerminalAuditLog{})
	if result.Error != nil {
		log.Printf("[terminal-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[terminal-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// StartRetentionCleanup purges expired entries on schedule, a cron spec
// such as "@daily" or "0 3 * * *". The returned func stops the scheduler
// and waits for a running purge to finish.
func (a *Auditor) StartRetentionCleanup(schedule string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { a.PurgeOlderThan(0) }); err != nil {
		return nil, fmt.Errorf("invalid audit prune schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[terminal-audit] retention cleanup scheduled (%s, keep %d days)", schedule, a.retentionDays)
	return func() { <-c.Stop().Done() }, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock used for retention.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
