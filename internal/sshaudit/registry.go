package sshaudit

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// global holds the process-wide Auditor used by the HTTP handlers.
var global atomic.Pointer[Auditor]

// InitGlobal builds the process-wide Auditor once the database is open.
func InitGlobal(db *gorm.DB, retentionDays int) *Auditor {
	a := NewAuditor(db, retentionDays)
	global.Store(a)
	return a
}

// GetAuditor returns the process-wide Auditor, or nil before InitGlobal.
func GetAuditor() *Auditor { return global.Load() }

func SetGlobalForTest(a *Auditor) { global.Store(a) }

func ResetGlobalForTest() { global.Store(nil) }
