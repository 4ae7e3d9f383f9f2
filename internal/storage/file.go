package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "relayd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl  (append-only JSON Lines)
//   - <prefix>.jobs.json    (full snapshot, rewritten atomically on change)
//
// The job set is small (active schedules plus a short retention window),
// so a snapshot rewrite per mutation is cheaper than a journal.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	jobsPath string
	jobs     map[string]JobRecord
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	jobsPath := prefix + ".jobs.json"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	jobs := map[string]JobRecord{}
	if err := loadJobSnapshot(jobsPath, jobs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("job snapshot unreadable, starting empty", logx.String("path", jobsPath), logx.Err(err))
	}

	return &fileStore{
		log:       log,
		auditFile: af,
		jobsPath:  jobsPath,
		jobs:      jobs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutJob(ctx context.Context, j JobRecord) error {
	_ = ctx
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id required")
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return s.writeJobSnapshotLocked()
}

func (s *fileStore) UpdateJobStatus(ctx context.Context, id, status, errMsg string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return s.writeJobSnapshotLocked()
}

func (s *fileStore) GetJob(ctx context.Context, id string) (JobRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return j, nil
}

func (s *fileStore) PendingJobs(ctx context.Context) ([]JobRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobRecord
	for _, j := range s.jobs {
		if j.Status == JobPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	return out, nil
}

func (s *fileStore) PruneJobs(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		terminal := j.Status == JobCompleted || j.Status == JobFailed
		if terminal && j.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.writeJobSnapshotLocked()
}

func (s *fileStore) writeJobSnapshotLocked() error {
	tmp := s.jobsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.jobs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.jobsPath)
}

func loadJobSnapshot(path string, out map[string]JobRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var m map[string]JobRecord
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
