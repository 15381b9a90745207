// Package sshaudit records terminal session lifecycle events.
//
// [Auditor] writes one terminal_audit_logs row per event and echoes it to
// the standard logger. It implements the terminal manager's audit sink, so
// every session start, end, denied request and failed connection lands in
// the table with the session ID, server, user, source IP and duration.
//
// # Events
//
//   - session_start: a shell was opened and the session became active
//   - session_end: an active session ended (details holds the reason)
//   - access_denied: the user does not own the server, or it does not exist
//   - connect_failed: the server was not ready or the SSH connection failed
//
// # Retention
//
// Rows older than the retention period are removed by [Auditor.PurgeOlderThan].
// [Auditor.StartRetentionCleanup] runs the purge on a cron schedule.
//
// The package keeps a process-wide Auditor set by [InitGlobal] and read by
// [GetAuditor] for HTTP handlers.
package sshaudit
