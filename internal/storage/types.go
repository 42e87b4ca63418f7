package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (atomic snapshot + jsonl audit)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the bot keeps
// its subscriptions in memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one handled command or dispatched notification.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID       string
	At       time.Time
	ChatID   int64
	Username string
	Action   string // "add", "del", "list", "notify.restock", ...
	Target   string // product identity key
	Error    string
	TookMS   int64
}
