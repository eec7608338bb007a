package orchestrator

import (
	"context"
	"errors"
	"time"

	"deckwork/internal/event"
)

// Status is the server-side lifecycle of one generation run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// ErrNotFound is returned by stores when no generation matches the lookup.
var ErrNotFound = errors.New("generation not found")

// ErrAlreadyFinished is returned when cancelling a generation that reached a
// terminal status.
var ErrAlreadyFinished = errors.New("generation already finished")

// Generation is the server-side record of one generation run, from the
// initial request through the terminal status the poll loop reported.
type Generation struct {
	ID             string         `json:"generation_id"`
	TaskID         string         `json:"task_id,omitempty"`
	UserID         string         `json:"user_id"`
	PresentationID string         `json:"presentation_id,omitempty"`
	TaskType       event.TaskType `json:"task_type"`
	Prompt         string         `json:"prompt"`
	Status         Status         `json:"status"`
	Progress       int            `json:"progress"`
	Topics         []string       `json:"topics,omitempty"`
	SlideCount     int            `json:"slide_count,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Store manages generation records.
type Store interface {
	// Create persists a new record.
	Create(ctx context.Context, gen *Generation) error

	// Get retrieves a generation by ID.
	Get(ctx context.Context, id string) (*Generation, error)

	// List returns generations with pagination, newest first.
	List(ctx context.Context, limit int, offset int) ([]*Generation, int, error)

	// ListByUser returns a user's generations, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Generation, error)

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// BindTask attaches the upstream task id once the task is created.
	BindTask(ctx context.Context, id string, taskID string) error

	// SetStatus updates the lifecycle status, stamping transition times.
	SetStatus(ctx context.Context, id string, status Status) error

	// SetProgress updates the coarse progress number.
	SetProgress(ctx context.Context, id string, progress int) error

	// SetTopics records extracted topics and marks the run completed.
	SetTopics(ctx context.Context, id string, topics []string) error

	// SetCompleted records the finished slide count and marks the run completed.
	SetCompleted(ctx context.Context, id string, slideCount int) error

	// SetError records a failure message with its terminal status.
	SetError(ctx context.Context, id string, status Status, message string) error
}
