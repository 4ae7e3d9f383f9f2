package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "relayd/pkg/logx"
)

// Store is the minimal persistence API used by the audit trail and the
// scheduler. Implementations must tolerate concurrent callers.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutJob(ctx context.Context, j JobRecord) error
	UpdateJobStatus(ctx context.Context, id, status, errMsg string) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	PendingJobs(ctx context.Context) ([]JobRecord, error)
	PruneJobs(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
