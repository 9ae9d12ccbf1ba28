package operations

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "featureflow/internal/errors"
)

// MemoryJobStore keeps jobs in a map. Jobs go in and come out as copies, so a
// caller never shares a *Job with a worker.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.NewAppValidationError(fmt.Sprintf("job %s already exists", job.ID))
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *MemoryJobStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.jobs[id]; ok {
		return job.clone(), nil
	}
	return nil, apperrors.NewNotFoundError("job " + id)
}

func (s *MemoryJobStore) UpdateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return apperrors.NewNotFoundError("job " + job.ID)
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

// ListJobs returns matching jobs newest first, ties broken by ID
func (s *MemoryJobStore) ListJobs(filter JobFilter) ([]*Job, error) {
	s.mu.RLock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.matches(job) {
			out = append(out, job.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PruneJobs drops finished jobs completed before cutoff
func (s *MemoryJobStore) PruneJobs(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.finished() && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *MemoryJobStore) CountByStatus() map[JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[JobStatus]int, 5)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}
