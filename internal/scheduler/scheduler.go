package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"relayd/internal/dispatch"
	"relayd/internal/relay"
	"relayd/internal/storage"
	logx "relayd/pkg/logx"
)

// job is the in-memory authoritative state of one scheduled dispatch.
// status transitions happen only under Service.mu.
type job struct {
	id      string
	fireAt  time.Time
	backend relay.BackendKind
	actor   string
	payload relay.Payload
	status  string
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	disp  *dispatch.Dispatcher
	store storage.Store

	jobs    map[string]*job
	started bool
	stopped bool

	// tmu guards the runtime timers separately so firing callbacks never
	// contend with registration on the main lock. halted flips when Stop
	// sweeps the timers; after that no new timer may be armed.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	halted bool

	c      *cron.Cron
	fireWG sync.WaitGroup

	// now is the clock; tests substitute it to exercise the registration
	// boundary without sleeping.
	now func() time.Time
}

func New(cfg Config, disp *dispatch.Dispatcher, store storage.Store, log logx.Logger) *Service {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		cfg:    cfg,
		disp:   disp,
		store:  store,
		jobs:   map[string]*job{},
		timers: map[string]*time.Timer{},
		now:    time.Now,
	}
	s.loc = s.loadLocation()
	return s
}

func (s *Service) loadLocation() *time.Location {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC",
			logx.String("tz", s.cfg.Timezone), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Start re-hydrates pending jobs from storage and begins the recovery
// sweep. Past-due rows fire as soon as possible; future rows get fresh
// timers. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.recover(ctx); err != nil {
		return err
	}

	s.c = cron.New(cron.WithLocation(s.loc))
	_, err := s.c.AddFunc("@every "+s.cfg.SweepEvery.String(), func() { s.sweep(context.Background()) })
	if err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Duration("sweep_every", s.cfg.SweepEvery))
	return nil
}

// Stop stops the sweep and all timers, then waits for in-flight firing
// sequences (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.c != nil {
		<-s.c.Stop().Done()
	}

	s.tmu.Lock()
	s.halted = true
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stopped with dispatches still in flight")
	}
	s.log.Info("scheduler stopped")
}

// Register validates the request, durably records the job, and arms its
// timer. On any rejection nothing is created: no row, no timer, no audit
// entry.
func (s *Service) Register(ctx context.Context, req Request) (Handle, error) {
	fireAt, err := parseFireAt(req.When, s.loc)
	if err != nil {
		return Handle{}, err
	}
	// Strict now > target: the exact instant is still accepted.
	if s.now().In(s.loc).After(fireAt) {
		return Handle{}, ErrPastTimestamp
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Handle{}, ErrStopped
	}
	s.mu.Unlock()

	payload := req.Payload.Clone()

	// Backends that can hold the message remotely skip the local timer.
	if handled, err := s.disp.NativeSchedule(ctx, req.Actor, req.Backend, payload, fireAt); handled {
		if err != nil {
			return Handle{}, err
		}
		id := uuid.NewString()
		s.persistNative(ctx, id, fireAt, req, payload)
		return Handle{ID: id, FireAt: fireAt, Native: true}, nil
	}

	j := &job{
		id:      uuid.NewString(),
		fireAt:  fireAt,
		backend: req.Backend,
		actor:   req.Actor,
		payload: payload,
		status:  storage.JobPending,
	}

	if s.store != nil {
		rec := storage.JobRecord{
			ID:      j.id,
			FireAt:  fireAt,
			Backend: string(req.Backend),
			Actor:   req.Actor,
			Status:  storage.JobPending,
			Payload: payload,
		}
		if err := s.store.PutJob(ctx, rec); err != nil {
			return Handle{}, err
		}
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.arm(j)
	s.log.Info("job registered",
		logx.String("id", j.id),
		logx.String("backend", string(j.backend)),
		logx.Time("fire_at", fireAt))
	return Handle{ID: j.id, FireAt: fireAt}, nil
}

// persistNative records a remotely-deferred job as already completed, so
// the audit trail and job table stay consistent across both paths.
func (s *Service) persistNative(ctx context.Context, id string, fireAt time.Time, req Request, payload relay.Payload) {
	if s.store == nil {
		return
	}
	rec := storage.JobRecord{
		ID:      id,
		FireAt:  fireAt,
		Backend: string(req.Backend),
		Actor:   req.Actor,
		Status:  storage.JobCompleted,
		Payload: payload,
	}
	if err := s.store.PutJob(ctx, rec); err != nil {
		s.log.Error("native-scheduled job row not persisted", logx.String("id", id), logx.Err(err))
	}
}

// arm creates the job's one timer. A job past due fires immediately.
//
// The timer is created under tmu so a registration racing Stop cannot arm
// after the shutdown sweep; the job row stays Pending and is recovered on
// the next start instead of firing into a torn-down dispatcher.
func (s *Service) arm(j *job) {
	delay := time.Until(j.fireAt)
	if delay < 0 {
		delay = 0
	}
	id := j.id

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.halted {
		return
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		s.tmu.Unlock()

		s.fireWG.Add(1)
		defer s.fireWG.Done()
		s.fire(id)
	})
}

// fire performs the single dispatch attempt for one job. The transition
// out of Pending is compare-and-set under mu, so a duplicate fire (timer
// racing the sweep) is a no-op.
func (s *Service) fire(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.status != storage.JobPending {
		s.mu.Unlock()
		return
	}
	j.status = storage.JobDispatching
	s.mu.Unlock()

	ctx := context.Background()
	s.persistStatus(ctx, id, storage.JobDispatching, "")

	err := s.disp.Dispatch(ctx, j.actor, j.backend, true, j.payload)

	final := storage.JobCompleted
	errMsg := ""
	if err != nil {
		final = storage.JobFailed
		errMsg = err.Error()
		s.log.Error("scheduled dispatch failed",
			logx.String("id", id),
			logx.String("backend", string(j.backend)),
			logx.Err(err))
	} else {
		s.log.Info("scheduled dispatch completed",
			logx.String("id", id),
			logx.String("backend", string(j.backend)))
	}

	s.mu.Lock()
	j.status = final
	delete(s.jobs, id)
	s.mu.Unlock()

	s.persistStatus(ctx, id, final, errMsg)
}

func (s *Service) persistStatus(ctx context.Context, id, status, errMsg string) {
	if s.store == nil {
		return
	}
	if err := s.store.UpdateJobStatus(ctx, id, status, errMsg); err != nil {
		s.log.Error("job status not persisted",
			logx.String("id", id),
			logx.String("status", status),
			logx.Err(err))
	}
}

// recover loads Pending rows back into the active set. Called once from
// Start, before the sweep begins.
func (s *Service) recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.PendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		s.adopt(r)
	}
	if len(rows) > 0 {
		s.log.Info("recovered pending jobs", logx.Int("count", len(rows)))
	}
	return nil
}

// adopt places a stored Pending row under scheduler control if it is not
// already tracked.
func (s *Service) adopt(r storage.JobRecord) {
	j := &job{
		id:      r.ID,
		fireAt:  r.FireAt,
		backend: relay.BackendKind(r.Backend),
		actor:   r.Actor,
		payload: r.Payload,
		status:  storage.JobPending,
	}

	s.mu.Lock()
	if _, exists := s.jobs[j.id]; exists {
		s.mu.Unlock()
		return
	}
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.arm(j)
}

// sweep is the periodic safety net: it adopts Pending rows that somehow
// lost their timer and prunes retired rows past retention. The CAS in
// fire() makes adoption harmless for jobs that are already tracked.
func (s *Service) sweep(ctx context.Context) {
	if s.store == nil {
		return
	}
	rows, err := s.store.PendingJobs(ctx)
	if err != nil {
		s.log.Warn("sweep: pending scan failed", logx.Err(err))
	} else {
		for _, r := range rows {
			s.adopt(r)
		}
	}

	cutoff := s.now().Add(-s.cfg.Retention)
	if n, err := s.store.PruneJobs(ctx, cutoff); err != nil {
		s.log.Warn("sweep: prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Debug("sweep: pruned retired jobs", logx.Int("count", n))
	}
}

// Snapshot returns diagnostic state for the active job set.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Timezone: s.loc.String()}
	for _, j := range s.jobs {
		out.Active = append(out.Active, JobInfo{
			ID:      j.id,
			FireAt:  j.fireAt,
			Backend: j.backend,
			Actor:   j.actor,
			Status:  j.status,
		})
	}
	sort.Slice(out.Active, func(i, k int) bool {
		return out.Active[i].FireAt.Before(out.Active[k].FireAt)
	})
	return out
}
