package store

import (
	"context"
	"sync"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

// InMemoryStore is a Store backed by a map. Conditional writes evaluate
// the condition and apply the mutation under a single write lock.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]task.Task
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]task.Task)}
}

// Insert implements Store.Insert.
func (s *InMemoryStore) Insert(ctx context.Context, t task.Task) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.ID]; ok {
		return task.Task{}, ErrExists
	}
	t = t.Clone()
	t.Version = 1
	s.items[t.ID] = t
	return t.Clone(), nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	s.mu.RLock()
	t, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return task.Task{}, tlerrors.ErrNotFound
	}
	return t.Clone(), nil
}

// List implements Store.List.
func (s *InMemoryStore) List(ctx context.Context) ([]task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]task.Task, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	return out, nil
}

// Update implements Store.Update.
func (s *InMemoryStore) Update(ctx context.Context, id string, cond Condition, mutate Mutation) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[id]
	if !ok {
		return task.Task{}, tlerrors.ErrNotFound
	}
	if !holds(cond, cur.Clone()) {
		return task.Task{}, ErrConditionFailed
	}
	n := next(cur, mutate)
	s.items[id] = n
	return n.Clone(), nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, id string, cond Condition) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[id]
	if !ok {
		return false, nil
	}
	if !holds(cond, cur.Clone()) {
		return false, ErrConditionFailed
	}
	delete(s.items, id)
	return true, nil
}
