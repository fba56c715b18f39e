// Package storage persists the delivery audit trail.
//
// Every finished request cycle appends one AuditEntry. Two drivers exist:
//   - "file": append-only JSON Lines
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
