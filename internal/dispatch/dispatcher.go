package dispatch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relayd/internal/audit"
	"relayd/internal/relay"
	logx "relayd/pkg/logx"
)

// Dispatcher routes payloads to backends and reconciles every attempt into
// the audit trail.
type Dispatcher struct {
	backends map[relay.BackendKind]Backend
	audit    *audit.Log
	log      logx.Logger

	// bg tracks in-flight background dispatches so Close can drain them.
	bg sync.WaitGroup
}

func NewDispatcher(auditLog *audit.Log, log logx.Logger, backends ...Backend) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := make(map[relay.BackendKind]Backend, len(backends))
	for _, b := range backends {
		m[b.Kind()] = b
	}
	return &Dispatcher{backends: m, audit: auditLog, log: log}
}

// Backend returns the registered backend for kind.
func (d *Dispatcher) Backend(kind relay.BackendKind) (Backend, bool) {
	b, ok := d.backends[kind]
	return b, ok
}

// Dispatch performs exactly one delivery attempt and appends the matching
// audit entry. The returned error reflects the send outcome only: an audit
// write failure after a successful send is logged, not returned, so the
// two can never be confused downstream.
//
// Attachment spool files are removed before Dispatch returns, success or
// failure.
func (d *Dispatcher) Dispatch(ctx context.Context, actor string, kind relay.BackendKind, scheduled bool, p relay.Payload) error {
	// Spool cleanup comes first: even a payload routed to an unknown
	// backend must not leave its temp file behind.
	if p.Attachment != nil {
		path := p.Attachment.Path
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				d.log.Warn("spool file not removed", logx.String("path", path), logx.Err(err))
			}
		}()
	}

	b, ok := d.backends[kind]
	if !ok {
		return transportErr(kind, "no such backend configured", nil)
	}

	sendErr := b.Send(ctx, p)

	action := relay.Action(scheduled, kind, p.Content)
	if sendErr != nil {
		d.log.Error("dispatch failed",
			logx.String("backend", string(kind)),
			logx.String("actor", actor),
			logx.Bool("scheduled", scheduled),
			logx.Err(sendErr))
		action += " (failed)"
	}
	if auditErr := d.audit.Record(ctx, actor, action); auditErr != nil && sendErr == nil {
		// Send succeeded; the audit service already logged the storage
		// error. Do not report it as a delivery failure.
		return nil
	}
	return sendErr
}

// NativeSchedule offers the job to the backend's remote scheduling API.
// It returns handled=false when the backend has no native path (or it is
// disabled), in which case the caller must arm a local timer. Payloads
// with attachments always take the local path; the spool file would not
// survive until a remote fire time.
func (d *Dispatcher) NativeSchedule(ctx context.Context, actor string, kind relay.BackendKind, p relay.Payload, at time.Time) (handled bool, err error) {
	b, ok := d.backends[kind]
	if !ok {
		return false, nil
	}
	ns, ok := b.(NativeScheduler)
	if !ok || !ns.NativeScheduleEnabled() || p.Attachment != nil {
		return false, nil
	}
	if err := ns.ScheduleNative(ctx, p, at); err != nil {
		return true, err
	}
	if auditErr := d.audit.Record(ctx, actor, relay.Action(true, kind, p.Content)); auditErr != nil {
		return true, nil
	}
	return true, nil
}

// DispatchAsync runs Dispatch in the background. The caller does not wait;
// the outcome stays observable because Dispatch logs and audits it.
func (d *Dispatcher) DispatchAsync(actor string, kind relay.BackendKind, scheduled bool, p relay.Payload) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		_ = d.Dispatch(context.Background(), actor, kind, scheduled, p)
	}()
}

// Close waits for in-flight background dispatches.
func (d *Dispatcher) Close() {
	d.bg.Wait()
}

// Spool copies an upload to a temp file so backends can stream it later.
// The Dispatcher removes the file once the send attempt finishes.
func Spool(name string, r io.Reader) (*relay.Attachment, error) {
	f, err := os.CreateTemp("", "relayd-*"+filepath.Ext(name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &relay.Attachment{Name: filepath.Base(name), Path: f.Name()}, nil
}
