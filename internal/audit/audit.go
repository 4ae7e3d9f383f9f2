// Package audit records one immutable entry per dispatch attempt.
//
// Entries are appended through storage.Store; a failed append is an
// operational problem, not a dispatch failure, and the two must never be
// conflated downstream.
package audit

import (
	"context"
	"time"

	"relayd/internal/storage"
	logx "relayd/pkg/logx"
)

// Log is the audit trail. Safe for concurrent use; the store serializes
// writes internally.
type Log struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{store: store, log: log}
}

// Record appends an entry stamped with the current time. A storage failure
// is returned so callers can surface it, but it is also logged here so the
// failure is observable even from fire-and-forget paths.
func (l *Log) Record(ctx context.Context, actor, action string) error {
	if l == nil || l.store == nil {
		return nil
	}
	e := storage.AuditEntry{At: time.Now(), Actor: actor, Action: action}
	if err := l.store.AppendAudit(ctx, e); err != nil {
		l.log.Error("audit append failed",
			logx.String("actor", actor),
			logx.String("action", action),
			logx.Err(err))
		return err
	}
	return nil
}
