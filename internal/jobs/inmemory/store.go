package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kzoteam/qbo-bridge/internal/jobs"
)

// Store keeps sweep jobs in memory, safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.SweepJob
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.SweepJob),
	}
}

// SaveJob stores a copy of the job keyed by its ID.
func (s *Store) SaveJob(ctx context.Context, job *jobs.SweepJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

// GetJob returns a copy of the job with the given ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.SweepJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	cp := *job
	return &cp, nil
}

// ListJobs returns matching jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.SweepJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.SweepJob
	for _, job := range s.jobs {
		if filter.Stage != "" && job.Stage != filter.Stage {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.SweepJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

var _ jobs.Store = (*Store)(nil)
