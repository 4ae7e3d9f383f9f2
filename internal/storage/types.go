package storage

import (
	"errors"
	"time"

	"relayd/internal/relay"
)

var ErrDisabled = errors.New("storage disabled")

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl audit + job snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and scheduled jobs do
// not survive restarts.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one dispatch attempt.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
}

// Job statuses. Transitions are monotonic:
// pending -> dispatching -> completed | failed.
const (
	JobPending     = "pending"
	JobDispatching = "dispatching"
	JobCompleted   = "completed"
	JobFailed      = "failed"
)

// JobRecord is the durable form of a scheduled job.
type JobRecord struct {
	ID      string        `json:"id"`
	FireAt  time.Time     `json:"fire_at"`
	Backend string        `json:"backend"`
	Actor   string        `json:"actor"`
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Payload relay.Payload `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
