package task

import (
	"fmt"
	"sort"
	"sync"
)

// Store keeps every task of the process in memory.
// Entries are never evicted.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*Task),
	}
}

type Option func(*Task)

// WithResult attaches a track and copies its audio URL to the task.
func WithResult(t *Track) Option {
	return func(v *Task) {
		v.Result = t
		if t != nil {
			v.AudioURL = t.AudioURL
		}
	}
}

func WithError(msg string) Option {
	return func(v *Task) {
		v.Error = msg
	}
}

// Create inserts a new queued task.
func (s *Store) Create(id string) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	t := &Task{ID: id, Status: Queued}
	s.tasks[id] = t
	return t.clone(), nil
}

// Update moves the task to the given status and replaces its payload.
func (s *Store) Update(id string, status Status, opts ...Option) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !cur.Status.CanMove(status) {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrTransition, id, cur.Status, status)
	}
	next := &Task{ID: id, Status: status}
	for _, o := range opts {
		o(next)
	}
	switch status {
	case Succeeded:
		if next.Result == nil || next.AudioURL == "" || next.Error != "" {
			return nil, fmt.Errorf("%w: %s succeeded needs a result and no error", ErrInvalid, id)
		}
	case Failed:
		if next.Error == "" || next.Result != nil {
			return nil, fmt.Errorf("%w: %s failed needs an error and no result", ErrInvalid, id)
		}
	}
	s.tasks[id] = next
	return next.clone(), nil
}

func (s *Store) Start(id string) (*Task, error) {
	return s.Update(id, Running)
}

func (s *Store) Succeed(id string, t *Track) (*Task, error) {
	return s.Update(id, Succeeded, WithResult(t))
}

func (s *Store) Fail(id string, msg string) (*Task, error) {
	return s.Update(id, Failed, WithError(msg))
}

// Get returns a snapshot of the task.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// List returns snapshots of all tasks sorted by id.
func (s *Store) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		vs = append(vs, t.clone())
	}
	sort.Slice(vs, func(i, j int) bool {
		return vs[i].ID < vs[j].ID
	})
	return vs
}
