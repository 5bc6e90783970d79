// Package memory keeps flags, evidence, actions and export jobs in process.
// It backs tests and local runs without DATABASE_URL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var (
	_ ports.FlagRepository      = (*Store)(nil)
	_ ports.EvidenceRepository  = (*Store)(nil)
	_ ports.ActionRepository    = (*Store)(nil)
	_ ports.ExportJobRepository = (*Store)(nil)
)

type flagEntry struct {
	// mu serialises Mutate calls for one flag.
	mu   sync.Mutex
	flag *domain.RedFlag
}

type Store struct {
	mu       sync.RWMutex
	flags    map[string]*flagEntry
	evidence map[string][]domain.Evidence
	actions  map[string][]domain.Action
	seq      int64

	jobs     map[string]*domain.ExportJob
	jobOrder []string
}

func New() *Store {
	return &Store{
		flags:    make(map[string]*flagEntry),
		evidence: make(map[string][]domain.Evidence),
		actions:  make(map[string][]domain.Action),
		jobs:     make(map[string]*domain.ExportJob),
	}
}

func (s *Store) Create(ctx context.Context, f *domain.RedFlag) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[f.ID]; ok {
		return domain.Errorf(domain.KindConflict, "flag %s already exists", f.ID)
	}
	s.flags[f.ID] = &flagEntry{flag: f.Clone()}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.RedFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.flags[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "flag %s not found", id)
	}
	return e.flag.Clone(), nil
}

func (s *Store) matching(f domain.FlagFilter) []*domain.RedFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RedFlag
	for _, e := range s.flags {
		if f.Matches(e.flag) {
			out = append(out, e.flag.Clone())
		}
	}
	return out
}

func (s *Store) List(ctx context.Context, q domain.FlagQuery) ([]*domain.RedFlag, int, error) {
	q = q.Normalize()
	all := s.matching(q.Filter)
	sort.Slice(all, func(i, j int) bool { return q.Less(all[i], all[j]) })
	total := len(all)
	start := q.Offset()
	if start >= total {
		return []*domain.RedFlag{}, total, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) Count(ctx context.Context, f domain.FlagFilter) (int, error) {
	return len(s.matching(f)), nil
}

func (s *Store) Each(ctx context.Context, f domain.FlagFilter, fn func(*domain.RedFlag) error) error {
	all := s.matching(f)
	q := domain.FlagQuery{Sort: domain.SortDetectedAt, Descending: true}
	sort.Slice(all, func(i, j int) bool { return q.Less(all[i], all[j]) })
	for _, fl := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(fl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn ports.MutateFunc) (*domain.RedFlag, *domain.Action, error) {
	s.mu.RLock()
	e, ok := s.flags[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, domain.Errorf(domain.KindNotFound, "flag %s not found", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	working := e.flag.Clone()
	s.mu.RUnlock()

	action, err := fn(working)
	if err != nil {
		return nil, nil, err
	}
	working.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if action != nil {
		s.seq++
		action.Seq = s.seq
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		action.FlagID = id
		s.actions[id] = append(s.actions[id], *action)
	}
	e.flag = working
	return working.Clone(), action, nil
}

func (s *Store) AddEvidence(ctx context.Context, ev *domain.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[ev.FlagID]; !ok {
		return domain.Errorf(domain.KindNotFound, "flag %s not found", ev.FlagID)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.evidence[ev.FlagID] = append(s.evidence[ev.FlagID], *ev)
	return nil
}

func (s *Store) ListEvidence(ctx context.Context, flagID string) ([]domain.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.flags[flagID]; !ok {
		return nil, domain.Errorf(domain.KindNotFound, "flag %s not found", flagID)
	}
	return append([]domain.Evidence{}, s.evidence[flagID]...), nil
}

func (s *Store) EvidenceFor(ctx context.Context, flagIDs []string) (map[string][]domain.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.Evidence, len(flagIDs))
	for _, id := range flagIDs {
		if items := s.evidence[id]; len(items) > 0 {
			out[id] = append([]domain.Evidence{}, items...)
		}
	}
	return out, nil
}

func (s *Store) ListActions(ctx context.Context, flagID string) ([]domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.flags[flagID]; !ok {
		return nil, domain.Errorf(domain.KindNotFound, "flag %s not found", flagID)
	}
	out := append([]domain.Action{}, s.actions[flagID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Export jobs

func (s *Store) Enqueue(ctx context.Context, job *domain.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	job.Status = domain.JobQueued
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *Store) ClaimNext(ctx context.Context) (*domain.ExportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		if j.Status != domain.JobQueued {
			continue
		}
		now := time.Now().UTC()
		j.Status = domain.JobRunning
		j.StartedAt = &now
		j.Attempts++
		cp := *j
		return &cp, true, nil
	}
	return nil, false, nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string, a domain.ExportArtifact) error {
	return s.finish(jobID, func(j *domain.ExportJob) {
		j.Status = domain.JobCompleted
		j.BlobKey = a.BlobKey
		j.Filename = a.Filename
		j.Rows = a.Rows
	})
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.finish(jobID, func(j *domain.ExportJob) {
		j.Status = domain.JobFailed
		j.Error = reason
	})
}

func (s *Store) finish(jobID string, apply func(*domain.ExportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "export job %s not found", jobID)
	}
	now := time.Now().UTC()
	apply(j)
	j.FinishedAt = &now
	return nil
}

func (s *Store) GetExportJob(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "export job %s not found", jobID)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = domain.JobQueued
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}
