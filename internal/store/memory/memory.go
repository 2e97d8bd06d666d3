// Package memory is an in-process job store, used in tests and for
// single-instance deployments that do not need records to survive restarts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{jobs: make(map[string]*model.Job)}
}

func (s *Store) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status model.JobStatus, progress int) error {
	return s.mutate(id, func(job *model.Job) error {
		return store.ApplyStatus(job, status, progress)
	})
}

func (s *Store) MarkDone(_ context.Context, id, convertedLocation string) error {
	return s.mutate(id, func(job *model.Job) error {
		return store.ApplyDone(job, convertedLocation)
	})
}

func (s *Store) MarkFailed(_ context.Context, id, reason string) error {
	return s.mutate(id, func(job *model.Job) error {
		return store.ApplyFailed(job, reason)
	})
}

func (s *Store) SaveInsights(_ context.Context, id string, insights *model.Insights) error {
	return s.mutate(id, func(job *model.Job) error {
		return store.ApplyInsights(job, insights)
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*model.Job, 0)
	for _, job := range s.jobs {
		if job.Expired(now) {
			ret = append(ret, job.Clone())
		}
	}
	return ret, nil
}

func (s *Store) Close() error {
	return nil
}

// mutate applies fn to a scratch copy and commits it only when fn succeeds.
func (s *Store) mutate(id string, fn func(*model.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	tmp := job.Clone()
	if err := fn(tmp); err != nil {
		return err
	}
	s.jobs[id] = tmp
	return nil
}
