package poller

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"deckwork/internal/event"
	"deckwork/internal/logging"
	"deckwork/internal/upstream"
)

// translator turns raw status payloads into typed events, suppressing
// re-emission of already-observed state. All of its state is private to one
// poll loop; a task's lifetime is attempt-bounded, but key retention is still
// capped with an LRU in case the task source floods ids.
type translator struct {
	task   Task
	logger logging.Logger

	seen         *lru.Cache[string, struct{}] // "(kind|id|status)" dedup keys
	slideHashes  *lru.Cache[string, uint64]   // slide id -> content hash
	slideIDs     map[string]struct{}
	lastProgress int
}

func newTranslator(task Task, dedupCapacity int, logger logging.Logger) *translator {
	seen, _ := lru.New[string, struct{}](dedupCapacity)
	slideHashes, _ := lru.New[string, uint64](dedupCapacity)
	return &translator{
		task:         task,
		logger:       logging.OrNop(logger),
		seen:         seen,
		slideHashes:  slideHashes,
		slideIDs:     make(map[string]struct{}),
		lastProgress: -1,
	}
}

// Translate converts one raw status payload into the events not yet emitted
// for this task. Items that fail to parse are logged and skipped; they never
// abort the poll loop.
func (t *translator) Translate(status *upstream.RawStatus, now time.Time) []event.Event {
	var events []event.Event
	events = append(events, t.stepEvents(status.ThinkingSteps, now)...)
	events = append(events, t.toolEvents(status.ToolCalls, now)...)
	if ev := t.progressEvent(status, now); ev != nil {
		events = append(events, ev)
	}
	if t.task.TaskType == event.TaskTypeSlides && status.Output != "" {
		events = append(events, t.slideEvents(status.Output, now)...)
	}
	return events
}

// SlideCount returns the number of distinct slides observed so far.
func (t *translator) SlideCount() int {
	return len(t.slideIDs)
}

func (t *translator) stepEvents(steps []upstream.RawStep, now time.Time) []event.Event {
	var events []event.Event
	for _, raw := range steps {
		id := strings.TrimSpace(string(raw.ID))
		if id == "" {
			t.logger.Warn("Skipping thinking step without id for task %s", t.task.TaskID)
			continue
		}

		stepStatus, ok := normalizeStepStatus(raw.Status)
		if !ok {
			t.logger.Warn("Skipping thinking step %s with unrecognized status %q for task %s", id, raw.Status, t.task.TaskID)
			continue
		}

		key := fmt.Sprintf("step|%s|%s", id, stepStatus)
		if t.seen.Contains(key) {
			continue
		}
		t.seen.Add(key, struct{}{})

		events = append(events, event.NewThinkingStepEvent(t.task.UserID, event.ThinkingStep{
			ID:          id,
			Title:       strings.TrimSpace(raw.Title),
			Status:      stepStatus,
			Description: strings.TrimSpace(raw.Description),
			Actions:     raw.Actions,
			StartedAt:   raw.StartedAt.TimePtr(),
			CompletedAt: raw.CompletedAt.TimePtr(),
		}, now))
	}
	return events
}

func (t *translator) toolEvents(calls []upstream.RawToolCall, now time.Time) []event.Event {
	var events []event.Event
	for _, raw := range calls {
		id := strings.TrimSpace(string(raw.ID))
		if id == "" {
			t.logger.Warn("Skipping tool call without id for task %s", t.task.TaskID)
			continue
		}

		toolStatus, ok := normalizeToolStatus(raw.Status)
		if !ok {
			t.logger.Warn("Skipping tool call %s with unrecognized status %q for task %s", id, raw.Status, t.task.TaskID)
			continue
		}

		key := fmt.Sprintf("tool|%s|%s", id, toolStatus)
		if t.seen.Contains(key) {
			continue
		}
		t.seen.Add(key, struct{}{})

		action := event.ToolAction{
			ID:          id,
			Type:        event.NormalizeToolType(raw.Name),
			Status:      toolStatus,
			Input:       strings.TrimSpace(raw.Input),
			StartedAt:   raw.StartedAt.TimePtr(),
			CompletedAt: raw.CompletedAt.TimePtr(),
		}

		switch toolStatus {
		case event.ToolStatusCompleted:
			action.Result = strings.TrimSpace(raw.Output)
			events = append(events, event.NewToolCompletedEvent(t.task.UserID, action, now))
		case event.ToolStatusFailed:
			action.Error = strings.TrimSpace(raw.Error)
			if action.Error == "" {
				action.Error = "tool failed"
			}
			events = append(events, event.NewToolFailedEvent(t.task.UserID, action, now))
		default:
			events = append(events, event.NewToolStartedEvent(t.task.UserID, action, now))
		}
	}
	return events
}

// progressEvent forwards the coarse progress number when it changed since the
// last poll. Identical values across consecutive polls are suppressed.
func (t *translator) progressEvent(status *upstream.RawStatus, now time.Time) event.Event {
	if status.Progress == nil {
		return nil
	}
	value := status.Progress.Clamped()
	if value == t.lastProgress {
		return nil
	}
	t.lastProgress = value
	return event.NewGenerationProgressEvent(t.task.UserID, value, string(status.State()), now)
}

// slideEvents surfaces previews for slides that are new or whose content
// changed since the last poll.
func (t *translator) slideEvents(output string, now time.Time) []event.Event {
	var events []event.Event
	for _, preview := range ParseSlidePreviews(output) {
		hash := hashSlide(preview)
		if prev, ok := t.slideHashes.Get(preview.ID); ok && prev == hash {
			continue
		}
		t.slideHashes.Add(preview.ID, hash)
		t.slideIDs[preview.ID] = struct{}{}
		events = append(events, event.NewSlidePreviewEvent(t.task.UserID, preview, now))
	}
	return events
}

func hashSlide(p event.SlidePreview) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s", p.ID, p.OrderIndex, p.Title, p.Content, p.Layout)
	return h.Sum64()
}

func normalizeStepStatus(raw string) (event.StepStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued", "waiting":
		return event.StepStatusPending, true
	case "running", "in_progress", "started", "working", "active":
		return event.StepStatusRunning, true
	case "completed", "complete", "done", "finished":
		return event.StepStatusCompleted, true
	}
	return "", false
}

func normalizeToolStatus(raw string) (event.ToolStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued", "waiting":
		return event.ToolStatusPending, true
	case "running", "in_progress", "started", "executing":
		return event.ToolStatusRunning, true
	case "completed", "complete", "done", "success", "succeeded":
		return event.ToolStatusCompleted, true
	case "failed", "error", "errored":
		return event.ToolStatusFailed, true
	}
	return "", false
}
