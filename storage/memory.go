package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. It is concurrently safe and survives
// Init/Close cycles, which makes it the default store for tests and for
// short-lived processes that do not need persistence.
type Memory struct {
	mu          sync.Mutex
	values      map[string]string
	initialized bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: map[string]string{},
	}
}

// Init implements Store.Init
func (s *Memory) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

// Get implements Store.Get
func (s *Memory) Get(ctx context.Context, key string) (string, error) {
	const op = "Memory.Get"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%s: key %q: %w", op, key, ErrNotFound)
	}
	return v, nil
}

// Set implements Store.Set
func (s *Memory) Set(ctx context.Context, key string, value string) error {
	const op = "Memory.Set"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	s.values[key] = value
	return nil
}

// Delete implements Store.Delete
func (s *Memory) Delete(ctx context.Context, key string) error {
	const op = "Memory.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	delete(s.values, key)
	return nil
}

// Clear implements Store.Clear
func (s *Memory) Clear(ctx context.Context) error {
	const op = "Memory.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	s.values = map[string]string{}
	return nil
}

// Close implements Store.Close. The stored values survive, so a subsequent
// Init reopens the same data.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}
