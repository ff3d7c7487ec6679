// Package memory provides in-process job and blob stores for development and
// as the fallback when Redis is unavailable.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

// JobStore keeps jobs in a map. Entries older than the TTL, measured from
// their last update, are treated as missing and pruned lazily.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]jobs.Job
	ttl  time.Duration
	now  func() time.Time
}

// NewJobStore constructs a JobStore. A ttl of zero disables expiry.
func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]jobs.Job),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.jobs[job.ID]; exists && !s.expired(existing) {
		return fmt.Errorf("%w: %s", jobs.ErrExists, job.ID)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now()
	}
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, id string) (jobs.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok || s.expired(job) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return job, nil
}

// Update applies a partial update and returns the stored job.
func (s *JobStore) Update(_ context.Context, id string, update jobs.Update) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || s.expired(job) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if update.At.IsZero() {
		update.At = s.now()
	}
	job, changed := update.Apply(job)
	if changed {
		s.jobs[id] = job
	}
	return job, nil
}

// Delete removes a job.
func (s *JobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || s.expired(job) {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// List returns live jobs, oldest first, and prunes expired ones.
func (s *JobStore) List(_ context.Context) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Job, 0, len(s.jobs))
	for id, job := range s.jobs {
		if s.expired(job) {
			delete(s.jobs, id)
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Len reports the number of stored jobs, expired or not.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) expired(job jobs.Job) bool {
	return s.ttl > 0 && s.now().Sub(job.UpdatedAt) > s.ttl
}
