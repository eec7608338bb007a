package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]*Generation
}

// NewMemoryStore creates a new in-memory generation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		generations: make(map[string]*Generation),
	}
}

func (s *MemoryStore) Create(ctx context.Context, gen *Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen.ID == "" {
		return fmt.Errorf("generation id is empty")
	}
	if _, exists := s.generations[gen.ID]; exists {
		return fmt.Errorf("generation already exists: %s", gen.ID)
	}

	stored := cloneGeneration(gen)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	s.generations[stored.ID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gen, exists := s.generations[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneGeneration(gen), nil
}

func (s *MemoryStore) List(ctx context.Context, limit int, offset int) ([]*Generation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gens := make([]*Generation, 0, len(s.generations))
	for _, gen := range s.generations {
		gens = append(gens, cloneGeneration(gen))
	}
	sort.Slice(gens, func(i, j int) bool {
		return gens[i].CreatedAt.After(gens[j].CreatedAt)
	})

	total := len(gens)
	if offset >= total {
		return []*Generation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return gens[offset:end], total, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gens := make([]*Generation, 0)
	for _, gen := range s.generations {
		if gen.UserID == userID {
			gens = append(gens, cloneGeneration(gen))
		}
	}
	sort.Slice(gens, func(i, j int) bool {
		return gens[i].CreatedAt.After(gens[j].CreatedAt)
	})
	return gens, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.generations[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.generations, id)
	return nil
}

func (s *MemoryStore) BindTask(ctx context.Context, id string, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	gen.TaskID = taskID
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	applyStatus(gen, status)
	return nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	gen.Progress = progress
	return nil
}

func (s *MemoryStore) SetTopics(ctx context.Context, id string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if gen.Status.Terminal() {
		return nil
	}
	gen.Topics = append([]string(nil), topics...)
	applyStatus(gen, StatusCompleted)
	return nil
}

func (s *MemoryStore) SetCompleted(ctx context.Context, id string, slideCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if gen.Status.Terminal() {
		return nil
	}
	gen.SlideCount = slideCount
	gen.Progress = 100
	applyStatus(gen, StatusCompleted)
	return nil
}

func (s *MemoryStore) SetError(ctx context.Context, id string, status Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, exists := s.generations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if gen.Status.Terminal() {
		return nil
	}
	gen.Error = message
	applyStatus(gen, status)
	return nil
}

// applyStatus transitions the record and stamps timestamps. A record that is
// already terminal stays as it is; the poll loop emits exactly one terminal
// event per task but Cancel and the observer can race on shutdown.
func applyStatus(gen *Generation, status Status) {
	if gen.Status.Terminal() {
		return
	}
	gen.Status = status

	now := time.Now()
	switch {
	case status == StatusRunning:
		if gen.StartedAt == nil {
			gen.StartedAt = &now
		}
	case status.Terminal():
		if gen.CompletedAt == nil {
			gen.CompletedAt = &now
		}
	}
}

func cloneGeneration(gen *Generation) *Generation {
	out := *gen
	if gen.Topics != nil {
		out.Topics = append([]string(nil), gen.Topics...)
	}
	if gen.StartedAt != nil {
		t := *gen.StartedAt
		out.StartedAt = &t
	}
	if gen.CompletedAt != nil {
		t := *gen.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
