package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dianvu/MayaProject/internal/jobs"
)

// Store is an in-memory JobStore keyed by job ID. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]jobs.GenerateReportJob
}

// NewStore creates an empty in-memory job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]jobs.GenerateReportJob)}
}

// SaveJob stores a copy of the job's current state.
func (s *Store) SaveJob(ctx context.Context, job *jobs.GenerateReportJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = *job
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.GenerateReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: job %s not found", jobID)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.GenerateReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.GenerateReportJob
	for id := range s.jobs {
		job := s.jobs[id]
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, &job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ jobs.JobStore = (*Store)(nil)
