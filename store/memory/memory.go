// Package memory is a process-local task.Store. It loses everything on
// restart and is meant for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pdfconvapi/task"
)

type Store struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
	now   func() time.Time
}

func New() *Store {
	return &Store{
		tasks: make(map[string]*task.Task),
		now:   time.Now,
	}
}

func (s *Store) Create(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return task.ErrAlreadyExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Store) Update(_ context.Context, id string, c task.Change) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil, task.ErrTerminal
	}
	c.Apply(t, s.now().UTC())
	return t.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]*task.Task, error) {
	return s.list(func(t *task.Task) bool { return t.ExpiresAt.Before(now) }), nil
}

func (s *Store) ListByStatus(_ context.Context, status task.Status) ([]*task.Task, error) {
	return s.list(func(t *task.Task) bool { return t.Status == status }), nil
}

func (s *Store) list(match func(*task.Task) bool) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
