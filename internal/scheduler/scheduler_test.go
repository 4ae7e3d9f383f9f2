package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"relayd/internal/audit"
	"relayd/internal/dispatch"
	"relayd/internal/relay"
	"relayd/internal/storage"
	logx "relayd/pkg/logx"
)

// memStore is an in-memory storage.Store for observing scheduler side
// effects.
type memStore struct {
	mu      sync.Mutex
	audits  []storage.AuditEntry
	jobs    map[string]storage.JobRecord
	putErr  error
	pending []storage.JobRecord
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]storage.JobRecord{}}
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) PutJob(_ context.Context, j storage.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *memStore) UpdateJobStatus(_ context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		j = storage.JobRecord{ID: id}
	}
	j.Status = status
	j.Error = errMsg
	m.jobs[id] = j
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (storage.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return storage.JobRecord{}, storage.ErrNotFound
	}
	return j, nil
}

func (m *memStore) PendingJobs(context.Context) ([]storage.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.JobRecord(nil), m.pending...), nil
}

func (m *memStore) PruneJobs(context.Context, time.Time) (int, error) { return 0, nil }
func (m *memStore) Close() error                                      { return nil }

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audits)
}

func (m *memStore) jobStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

// chanBackend records sends and signals each one on a channel.
type chanBackend struct {
	kind  relay.BackendKind
	sent  chan relay.Payload
	mu    sync.Mutex
	count int

	nativeEnabled bool
	nativeCount   int
}

func newChanBackend(kind relay.BackendKind) *chanBackend {
	return &chanBackend{kind: kind, sent: make(chan relay.Payload, 8)}
}

func (b *chanBackend) Kind() relay.BackendKind { return b.kind }

func (b *chanBackend) Send(_ context.Context, p relay.Payload) error {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	b.sent <- p
	return nil
}

func (b *chanBackend) NativeScheduleEnabled() bool { return b.nativeEnabled }

func (b *chanBackend) ScheduleNative(context.Context, relay.Payload, time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nativeCount++
	return nil
}

func (b *chanBackend) sends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func newTestService(t *testing.T, store storage.Store, backends ...dispatch.Backend) *Service {
	t.Helper()
	disp := dispatch.NewDispatcher(audit.New(store, logx.Nop()), logx.Nop(), backends...)
	return New(Config{Timezone: "UTC"}, disp, store, logx.Nop())
}

func waitSend(t *testing.T, b *chanBackend) relay.Payload {
	t.Helper()
	select {
	case p := <-b.sent:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return relay.Payload{}
	}
}

func TestParseFireAt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in string
		ok bool
	}{
		{"2031-05-01 14:30", true},
		{"  2031-05-01 14:30  ", true},
		{"2031-05-01T14:30", false},
		{"2031-05-01 14:30:00", false},
		{"2031-5-1 14:30", false},
		{"2031-02-30 10:00", false},
		{"2031-13-01 10:00", false},
		{"2031-05-01 25:00", false},
		{"yesterday", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := parseFireAt(tt.in, time.UTC)
		if tt.ok {
			if err != nil {
				t.Errorf("parseFireAt(%q) error: %v", tt.in, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("parseFireAt(%q) = (%v, %v), want ErrInvalidTimestamp", tt.in, got, err)
		}
	}
}

func TestRegisterRejectsPast(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)
	s.now = func() time.Time {
		return time.Date(2031, 5, 1, 14, 31, 0, 0, time.UTC)
	}

	_, err := s.Register(context.Background(), Request{
		Actor:   "alice",
		Backend: relay.BackendDiscord,
		Payload: relay.Payload{Body: "late"},
		When:    "2031-05-01 14:30",
	})
	if !errors.Is(err, ErrPastTimestamp) {
		t.Fatalf("err = %v, want ErrPastTimestamp", err)
	}
	if n := len(store.jobs); n != 0 {
		t.Fatalf("rejected registration persisted %d rows", n)
	}
	if store.auditCount() != 0 {
		t.Fatal("rejected registration wrote an audit entry")
	}
	if backend.sends() != 0 {
		t.Fatal("rejected registration reached the backend")
	}
}

func TestRegisterAcceptsExactInstant(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)
	s.now = func() time.Time {
		return time.Date(2031, 5, 1, 14, 30, 0, 0, time.UTC)
	}

	h, err := s.Register(context.Background(), Request{
		Actor:   "alice",
		Backend: relay.BackendDiscord,
		Payload: relay.Payload{Body: "boundary"},
		When:    "2031-05-01 14:30",
	})
	if err != nil {
		t.Fatalf("Register at the exact instant rejected: %v", err)
	}
	defer s.Stop(context.Background())
	if got := store.jobStatus(h.ID); got != storage.JobPending && got != storage.JobDispatching && got != storage.JobCompleted {
		t.Fatalf("job status = %q", got)
	}
}

func TestRegisterRejectsMalformed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendMail)
	s := newTestService(t, store, backend)

	_, err := s.Register(context.Background(), Request{
		Actor:   "alice",
		Backend: relay.BackendMail,
		Payload: relay.Payload{Body: "x"},
		When:    "01-05-2031 14:30",
	})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("err = %v, want ErrInvalidTimestamp", err)
	}
	if len(store.jobs) != 0 || store.auditCount() != 0 {
		t.Fatal("invalid registration left side effects")
	}
}

func TestRegisterStoreFailureArmsNothing(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.putErr = errors.New("disk full")
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)

	_, err := s.Register(context.Background(), Request{
		Actor:   "alice",
		Backend: relay.BackendDiscord,
		Payload: relay.Payload{Body: "x"},
		When:    "2099-01-01 00:00",
	})
	if err == nil {
		t.Fatal("expected store error from Register")
	}
	s.tmu.Lock()
	timers := len(s.timers)
	s.tmu.Unlock()
	if timers != 0 {
		t.Fatalf("failed registration armed %d timers", timers)
	}
	s.mu.Lock()
	tracked := len(s.jobs)
	s.mu.Unlock()
	if tracked != 0 {
		t.Fatalf("failed registration tracked %d jobs", tracked)
	}
}

func TestAdoptedJobFiresOnce(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)

	rec := storage.JobRecord{
		ID:      "job-1",
		FireAt:  time.Now().Add(30 * time.Millisecond),
		Backend: string(relay.BackendDiscord),
		Actor:   "alice",
		Status:  storage.JobPending,
		Payload: relay.Payload{Body: "hello"},
	}
	if err := store.PutJob(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	s.adopt(rec)

	p := waitSend(t, backend)
	if p.Body != "hello" {
		t.Fatalf("payload body = %q", p.Body)
	}
	s.Stop(context.Background())

	if got := backend.sends(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	if got := store.jobStatus("job-1"); got != storage.JobCompleted {
		t.Fatalf("final status = %q, want %q", got, storage.JobCompleted)
	}
	if got := store.auditCount(); got != 1 {
		t.Fatalf("audit entries = %d, want 1", got)
	}
	store.mu.Lock()
	action := store.audits[0].Action
	actor := store.audits[0].Actor
	store.mu.Unlock()
	if actor != "alice" || !strings.HasPrefix(action, "Scheduled a Discord Message") {
		t.Fatalf("audit entry = %q by %q", action, actor)
	}
}

func TestDuplicateAdoptFiresOnce(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendSlack)
	s := newTestService(t, store, backend)

	rec := storage.JobRecord{
		ID:      "job-dup",
		FireAt:  time.Now().Add(30 * time.Millisecond),
		Backend: string(relay.BackendSlack),
		Actor:   "bob",
		Status:  storage.JobPending,
		Payload: relay.Payload{Body: "once"},
	}
	_ = store.PutJob(context.Background(), rec)

	// The sweep can race the original timer; adoption of a tracked job
	// must be a no-op.
	s.adopt(rec)
	s.adopt(rec)

	waitSend(t, backend)
	s.Stop(context.Background())

	// A stale fire after the terminal transition must also be a no-op.
	s.fire("job-dup")

	if got := backend.sends(); got != 1 {
		t.Fatalf("sends = %d, want exactly 1", got)
	}
	if got := store.jobStatus("job-dup"); got != storage.JobCompleted {
		t.Fatalf("final status = %q", got)
	}
}

func TestTwoJobsSameInstantBothFire(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)

	at := time.Now().Add(30 * time.Millisecond)
	for _, id := range []string{"job-a", "job-b"} {
		rec := storage.JobRecord{
			ID:      id,
			FireAt:  at,
			Backend: string(relay.BackendDiscord),
			Actor:   "carol",
			Status:  storage.JobPending,
			Payload: relay.Payload{Body: id},
		}
		_ = store.PutJob(context.Background(), rec)
		s.adopt(rec)
	}

	got := map[string]bool{}
	got[waitSend(t, backend).Body] = true
	got[waitSend(t, backend).Body] = true
	s.Stop(context.Background())

	if !got["job-a"] || !got["job-b"] {
		t.Fatalf("both jobs should fire, got %v", got)
	}
}

func TestStartRecoversPastDuePending(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendMail)
	s := newTestService(t, store, backend)

	rec := storage.JobRecord{
		ID:      "job-old",
		FireAt:  time.Now().Add(-time.Hour),
		Backend: string(relay.BackendMail),
		Actor:   "dave",
		Status:  storage.JobPending,
		Payload: relay.Payload{Body: "overdue", Recipients: []string{"x@example.com"}},
	}
	_ = store.PutJob(context.Background(), rec)
	store.pending = []storage.JobRecord{rec}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitSend(t, backend)
	s.Stop(context.Background())

	if p.Body != "overdue" {
		t.Fatalf("payload body = %q", p.Body)
	}
	if got := store.jobStatus("job-old"); got != storage.JobCompleted {
		t.Fatalf("recovered job status = %q", got)
	}
}

func TestRegisterNativeSchedule(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendSlack)
	backend.nativeEnabled = true
	s := newTestService(t, store, backend)

	h, err := s.Register(context.Background(), Request{
		Actor:   "erin",
		Backend: relay.BackendSlack,
		Payload: relay.Payload{Body: "deferred"},
		When:    "2099-01-01 00:00",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !h.Native {
		t.Fatal("handle should mark native scheduling")
	}
	backend.mu.Lock()
	native := backend.nativeCount
	backend.mu.Unlock()
	if native != 1 {
		t.Fatalf("native schedules = %d, want 1", native)
	}
	if backend.sends() != 0 {
		t.Fatal("native path must not send locally")
	}
	s.tmu.Lock()
	timers := len(s.timers)
	s.tmu.Unlock()
	if timers != 0 {
		t.Fatal("native path must not arm a local timer")
	}
	if got := store.jobStatus(h.ID); got != storage.JobCompleted {
		t.Fatalf("native job row status = %q", got)
	}
	if got := store.auditCount(); got != 1 {
		t.Fatalf("audit entries = %d, want 1", got)
	}
}

func TestRegisterAfterStop(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)
	s.Stop(context.Background())

	_, err := s.Register(context.Background(), Request{
		Actor:   "frank",
		Backend: relay.BackendDiscord,
		Payload: relay.Payload{Body: "late"},
		When:    "2099-01-01 00:00",
	})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestStopPreventsLateTimerArm(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)
	s.Stop(context.Background())

	// A registration that slipped past the stopped check must not arm a
	// timer once the shutdown sweep has run; the row stays Pending for
	// recovery on the next start.
	rec := storage.JobRecord{
		ID:      "job-late",
		FireAt:  time.Now().Add(10 * time.Millisecond),
		Backend: string(relay.BackendDiscord),
		Actor:   "grace",
		Status:  storage.JobPending,
		Payload: relay.Payload{Body: "late"},
	}
	_ = store.PutJob(context.Background(), rec)
	s.adopt(rec)

	s.tmu.Lock()
	timers := len(s.timers)
	s.tmu.Unlock()
	if timers != 0 {
		t.Fatalf("timers armed after Stop = %d", timers)
	}

	time.Sleep(100 * time.Millisecond)
	if got := backend.sends(); got != 0 {
		t.Fatalf("sends after Stop = %d, want 0", got)
	}
	if got := store.jobStatus("job-late"); got != storage.JobPending {
		t.Fatalf("job status = %q, want pending for recovery", got)
	}
}

func TestSnapshotSorted(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	backend := newChanBackend(relay.BackendDiscord)
	s := newTestService(t, store, backend)

	base := time.Now().Add(time.Hour)
	for i, id := range []string{"j-late", "j-early", "j-mid"} {
		offsets := []time.Duration{2 * time.Hour, 0, time.Hour}
		s.adopt(storage.JobRecord{
			ID:      id,
			FireAt:  base.Add(offsets[i]),
			Backend: string(relay.BackendDiscord),
			Status:  storage.JobPending,
			Payload: relay.Payload{Body: id},
		})
	}
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if len(snap.Active) != 3 {
		t.Fatalf("active jobs = %d", len(snap.Active))
	}
	want := []string{"j-early", "j-mid", "j-late"}
	for i, info := range snap.Active {
		if info.ID != want[i] {
			t.Fatalf("snapshot order = %v at %d, want %v", info.ID, i, want)
		}
	}
}
