package state

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	states map[string]*ProjectState
	closed bool
	mu     sync.RWMutex
}

// NewMemoryStore returns an empty, open store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*ProjectState),
	}
}

func (m *MemoryStore) Load(_ context.Context, project string) (*ProjectState, error) {
	if project == "" {
		return nil, ErrNoProject
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	if s, ok := m.states[project]; ok {
		return s.Clone(), nil
	}
	return New(project), nil
}

func (m *MemoryStore) Save(_ context.Context, s *ProjectState) error {
	if s == nil || s.Project == "" {
		return ErrNoProject
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	c := s.Clone()
	c.Normalize()
	m.states[s.Project] = c
	return nil
}

func (m *MemoryStore) Update(_ context.Context, project string, fn func(*ProjectState) error) (*ProjectState, error) {
	if project == "" {
		return nil, ErrNoProject
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	st := New(project)
	if cur, ok := m.states[project]; ok {
		st = cur.Clone()
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.Project = project
	st.Normalize()
	m.states[project] = st.Clone()
	return st, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
