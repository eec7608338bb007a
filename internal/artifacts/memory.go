package artifacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory storage. It is the default
// when no database is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	presentations map[string]*Presentation
}

// NewMemoryStore creates a new in-memory presentation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{presentations: make(map[string]*Presentation)}
}

func (s *MemoryStore) Save(ctx context.Context, presentation *Presentation) error {
	if presentation == nil {
		return fmt.Errorf("presentation cannot be nil")
	}
	if presentation.ID == "" {
		return fmt.Errorf("presentation id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := clonePresentation(presentation)
	sortSlides(stored.Slides)
	now := time.Now()
	if existing, ok := s.presentations[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.presentations[stored.ID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	presentation, ok := s.presentations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clonePresentation(presentation), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Presentation, 0)
	for _, presentation := range s.presentations {
		if presentation.UserID == userID {
			out = append(out, clonePresentation(presentation))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presentations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.presentations, id)
	return nil
}

func clonePresentation(p *Presentation) *Presentation {
	out := *p
	if p.Topics != nil {
		out.Topics = append([]string(nil), p.Topics...)
	}
	if p.Slides != nil {
		out.Slides = append([]Slide(nil), p.Slides...)
	}
	return &out
}

func sortSlides(slides []Slide) {
	sort.SliceStable(slides, func(i, j int) bool {
		if slides[i].OrderIndex != slides[j].OrderIndex {
			return slides[i].OrderIndex < slides[j].OrderIndex
		}
		return slides[i].ID < slides[j].ID
	})
}
