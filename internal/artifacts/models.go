// Package artifacts stores the finished output of generation runs: the
// presentations and their slides that clients fetch once a run completes.
package artifacts

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no presentation matches the lookup.
var ErrNotFound = errors.New("presentation not found")

// Slide is one finished slide of a presentation.
type Slide struct {
	ID         string `json:"id"`
	OrderIndex int    `json:"order_index"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Layout     string `json:"layout"`
}

// Presentation is the stored artifact of a completed slides run.
type Presentation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Topics    []string  `json:"topics,omitempty"`
	Slides    []Slide   `json:"slides"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlideCount returns the number of slides.
func (p *Presentation) SlideCount() int {
	return len(p.Slides)
}

// Store persists presentations.
type Store interface {
	// Save upserts a presentation.
	Save(ctx context.Context, presentation *Presentation) error

	// Get retrieves a presentation by ID.
	Get(ctx context.Context, id string) (*Presentation, error)

	// ListByUser returns a user's presentations, most recently updated first.
	ListByUser(ctx context.Context, userID string) ([]*Presentation, error)

	// Delete removes a presentation.
	Delete(ctx context.Context, id string) error
}
