package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one request cycle.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	CycleID  string    `json:"cycle_id"`
	Input    string    `json:"input"`
	Registry string    `json:"registry"`
	Handler  string    `json:"handler"`
	CacheHit bool      `json:"cache_hit"`
	Packets  int       `json:"packets"`
	Bytes    int       `json:"bytes"`
	Aborted  bool      `json:"aborted"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
