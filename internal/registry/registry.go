package registry

import (
	"context"
	"errors"
	"sync"

	"deckwork/internal/logging"
)

// ErrAlreadyRegistered is returned when a poller is already live for a task.
var ErrAlreadyRegistered = errors.New("poller already registered for task")

// ErrCancelled is the context cause recorded for explicit cancellation.
var ErrCancelled = errors.New("generation cancelled")

// Registry guarantees single ownership of polling per task id and provides
// cooperative cancellation. Cancellation is delivered through the stored
// context cancel function; the poll loop observes it before scheduling its
// next attempt, so an in-flight fetch finishes but its result is discarded.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	logger  logging.Logger
}

// New creates an empty registry.
func New(logger logging.Logger) *Registry {
	return &Registry{
		cancels: make(map[string]context.CancelCauseFunc),
		logger:  logging.OrNop(logger),
	}
}

// Register records the cancel function for a task's poller. A second
// registration for the same task id is rejected; the caller must Cancel (or
// wait for the live poller to finish) first.
func (r *Registry) Register(taskID string, cancel context.CancelCauseFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cancels[taskID]; exists {
		return ErrAlreadyRegistered
	}
	r.cancels[taskID] = cancel
	r.logger.Debug("Registered poller for task %s (%d active)", taskID, len(r.cancels))
	return nil
}

// Cancel stops the poller for taskID. Returns false when no poller is live.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, exists := r.cancels[taskID]
	if exists {
		delete(r.cancels, taskID)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	cancel(ErrCancelled)
	r.logger.Info("Cancelled poller for task %s", taskID)
	return true
}

// CancelAll stops every live poller and returns how many were cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(r.cancels))
	for taskID, cancel := range r.cancels {
		cancels = append(cancels, cancel)
		delete(r.cancels, taskID)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel(ErrCancelled)
	}
	if len(cancels) > 0 {
		r.logger.Info("Cancelled %d active pollers", len(cancels))
	}
	return len(cancels)
}

// Remove drops a task's registration without cancelling, for the poller's
// own cleanup after a terminal status.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	delete(r.cancels, taskID)
	r.mu.Unlock()
}

// Active reports whether a poller is live for taskID.
func (r *Registry) Active(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.cancels[taskID]
	return exists
}

// ActiveCount returns the number of live pollers.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
