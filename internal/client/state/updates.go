package state

import (
	"fmt"
	"strings"
	"time"

	"deckwork/internal/artifacts"
	"deckwork/internal/event"
)

// FromEvent maps a wire event to the store update that applies it. Events with
// no usable identity, or kinds outside the vocabulary, return an error so the
// caller can log and drop them without touching the store.
func FromEvent(ev event.Event) (Update, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}

	switch e := ev.(type) {
	case *event.ThinkingStepEvent:
		if strings.TrimSpace(e.Step.ID) == "" {
			return nil, fmt.Errorf("thinking step without id")
		}
		return StepUpsert{Step: e.Step, Timestamp: e.Timestamp()}, nil
	case *event.ToolStartedEvent:
		return toolUpsertFrom(e.Tool, event.ToolStatusRunning, e.Timestamp())
	case *event.ToolCompletedEvent:
		return toolUpsertFrom(e.Tool, event.ToolStatusCompleted, e.Timestamp())
	case *event.ToolFailedEvent:
		return toolUpsertFrom(e.Tool, event.ToolStatusFailed, e.Timestamp())
	case *event.SlidePreviewEvent:
		if strings.TrimSpace(e.Slide.ID) == "" {
			return nil, fmt.Errorf("slide preview without id")
		}
		return SlideUpsert{Slide: e.Slide, Timestamp: e.Timestamp()}, nil
	case *event.TopicsGeneratedEvent:
		return TopicsLoaded{Topics: e.Topics, Timestamp: e.Timestamp()}, nil
	case *event.GenerationProgressEvent:
		return ProgressUpdate{Progress: e.Progress, Stage: e.Stage, Timestamp: e.Timestamp()}, nil
	case *event.GenerationCompletedEvent:
		return CompletionSet{
			PresentationID: e.PresentationID,
			SlideCount:     e.SlideCount,
			Timestamp:      e.Timestamp(),
		}, nil
	case *event.GenerationErrorEvent:
		return FailureSet{Reason: e.Reason, Message: e.Message, Timestamp: e.Timestamp()}, nil
	default:
		return nil, fmt.Errorf("unhandled event type %q", ev.EventType())
	}
}

func toolUpsertFrom(tool event.ToolAction, fallback event.ToolStatus, ts time.Time) (Update, error) {
	if strings.TrimSpace(tool.ID) == "" {
		return nil, fmt.Errorf("tool action without id")
	}
	if tool.Status == "" {
		tool.Status = fallback
	}
	return ToolUpsert{Tool: tool, Timestamp: ts}, nil
}

// Reset clears all state, returning the store to idle.
type Reset struct{}

func (Reset) apply(store *Store) {
	store.steps = make(map[string]*StepRecord)
	store.stepOrder = nil
	store.tools = make(map[string]*ToolRecord)
	store.toolOrder = nil
	store.slides = nil
	store.slideIndex = make(map[string]int)
	store.topics = nil
	store.agents = make(map[event.AgentRole]*event.AgentState)
	store.status = event.GenerationStatusIdle
	store.progress = 0
	store.stage = ""
	store.errorReason = ""
	store.errorMessage = ""
	store.warning = ""
	store.presentationID = ""
	store.presentation = nil
}

// StepUpsert merges a thinking step observation into its record.
type StepUpsert struct {
	Step      event.ThinkingStep
	Timestamp time.Time
}

func (u StepUpsert) apply(store *Store) {
	record, exists := store.steps[u.Step.ID]
	if !exists {
		record = &StepRecord{ID: u.Step.ID, Status: event.StepStatusPending}
		store.steps[u.Step.ID] = record
		store.stepOrder = append(store.stepOrder, u.Step.ID)
	}

	// A re-delivered earlier status must not rewind the record.
	if stepRank(u.Step.Status) < stepRank(record.Status) {
		return
	}

	if u.Step.Title != "" {
		record.Title = u.Step.Title
	}
	if u.Step.Description != "" {
		record.Description = u.Step.Description
	}
	if len(u.Step.Actions) > 0 {
		record.Actions = append([]string(nil), u.Step.Actions...)
	}
	record.Status = u.Step.Status
	if u.Step.StartedAt != nil {
		record.StartedAt = copyTimePtr(u.Step.StartedAt)
	}
	if u.Step.CompletedAt != nil {
		record.CompletedAt = copyTimePtr(u.Step.CompletedAt)
	}
	record.UpdatedAt = u.Timestamp

	store.projectAgent(record)
	store.advance(event.GenerationStatusThinking)
	store.touch(u.Timestamp)
}

func stepRank(status event.StepStatus) int {
	switch status {
	case event.StepStatusRunning:
		return 1
	case event.StepStatusCompleted:
		return 2
	}
	return 0
}

// ToolUpsert merges a tool observation into its record. The lifecycle is
// monotonic: pending/running can move to completed or failed, never back, so
// a started event re-delivered after the terminal one is discarded. A tool
// first observed already terminal materializes directly in that state.
type ToolUpsert struct {
	Tool      event.ToolAction
	Timestamp time.Time
}

func (u ToolUpsert) apply(store *Store) {
	record, exists := store.tools[u.Tool.ID]
	if !exists {
		record = &ToolRecord{ID: u.Tool.ID, Status: event.ToolStatusPending}
		store.tools[u.Tool.ID] = record
		store.toolOrder = append(store.toolOrder, u.Tool.ID)
	}

	if toolRank(u.Tool.Status) < toolRank(record.Status) {
		return
	}

	if u.Tool.Type != "" {
		record.Type = u.Tool.Type
	}
	if u.Tool.Input != "" {
		record.Input = u.Tool.Input
	}
	if u.Tool.Result != "" {
		record.Result = u.Tool.Result
	}
	if u.Tool.Error != "" {
		record.Error = u.Tool.Error
	}
	record.Status = u.Tool.Status
	if u.Tool.StartedAt != nil {
		record.StartedAt = copyTimePtr(u.Tool.StartedAt)
	}
	if u.Tool.CompletedAt != nil {
		record.CompletedAt = copyTimePtr(u.Tool.CompletedAt)
	}
	if record.StartedAt != nil && record.CompletedAt != nil && !record.CompletedAt.Before(*record.StartedAt) {
		record.Duration = record.CompletedAt.Sub(*record.StartedAt)
	}
	record.UpdatedAt = u.Timestamp

	store.advance(event.GenerationStatusThinking)
	store.touch(u.Timestamp)
}

func toolRank(status event.ToolStatus) int {
	switch status {
	case event.ToolStatusRunning:
		return 1
	case event.ToolStatusCompleted, event.ToolStatusFailed:
		return 2
	}
	return 0
}

// SlideUpsert stores a previewed slide; a duplicate id replaces in place.
type SlideUpsert struct {
	Slide     event.SlidePreview
	Timestamp time.Time
}

func (u SlideUpsert) apply(store *Store) {
	record := &SlideRecord{
		ID:         u.Slide.ID,
		OrderIndex: u.Slide.OrderIndex,
		Title:      u.Slide.Title,
		Content:    u.Slide.Content,
		Layout:     u.Slide.Layout,
		UpdatedAt:  u.Timestamp,
	}
	if at, ok := store.slideIndex[u.Slide.ID]; ok {
		store.slides[at] = record
	} else {
		store.slideIndex[u.Slide.ID] = len(store.slides)
		store.slides = append(store.slides, record)
	}

	store.advance(event.GenerationStatusGenerating)
	store.touch(u.Timestamp)
}

// TopicsLoaded stores the generated topic list and returns the status to idle,
// ready for the user to approve the topics and start the slides run.
type TopicsLoaded struct {
	Topics    []string
	Timestamp time.Time
}

func (u TopicsLoaded) apply(store *Store) {
	store.topics = append([]string(nil), u.Topics...)
	if !event.IsTerminalGenerationStatus(store.status) {
		store.status = event.GenerationStatusIdle
		store.settleAgents(event.AgentStatusCompleted)
	}
	store.touch(u.Timestamp)
}

// ProgressUpdate records coarse generation progress.
type ProgressUpdate struct {
	Progress  int
	Stage     string
	Timestamp time.Time
}

func (u ProgressUpdate) apply(store *Store) {
	progress := u.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Duplicated deliveries may arrive late; progress never moves backwards.
	if progress > store.progress {
		store.progress = progress
	}
	if u.Stage != "" {
		store.stage = u.Stage
	}
	store.touch(u.Timestamp)
}

// CompletionSet marks the generation completed. The consumer fetches the
// durable presentation before applying this, so observers that react to
// the completed status always find the artifact present; FetchWarning carries
// the failure detail when that fetch did not succeed.
type CompletionSet struct {
	PresentationID string
	SlideCount     int
	FetchWarning   string
	Timestamp      time.Time
}

func (u CompletionSet) apply(store *Store) {
	if event.IsTerminalGenerationStatus(store.status) {
		return
	}
	store.status = event.GenerationStatusCompleted
	store.progress = 100
	store.presentationID = u.PresentationID
	store.warning = u.FetchWarning
	store.settleAgents(event.AgentStatusCompleted)
	store.touch(u.Timestamp)
}

// PresentationLoaded stores the fetched final artifact.
type PresentationLoaded struct {
	Presentation *artifacts.Presentation
	Timestamp    time.Time
}

func (u PresentationLoaded) apply(store *Store) {
	store.presentation = clonePresentation(u.Presentation)
	store.touch(u.Timestamp)
}

// FailureSet ends the generation without a result. Reason cancelled maps to
// the cancelled status, every other reason to error. A failure arriving after
// a terminal status is stale and ignored.
type FailureSet struct {
	Reason    string
	Message   string
	Timestamp time.Time
}

func (u FailureSet) apply(store *Store) {
	if event.IsTerminalGenerationStatus(store.status) {
		return
	}
	if u.Reason == event.ReasonCancelled {
		store.status = event.GenerationStatusCancelled
	} else {
		store.status = event.GenerationStatusError
	}
	store.errorReason = u.Reason
	store.errorMessage = u.Message
	store.settleAgents(event.AgentStatusError)
	store.touch(u.Timestamp)
}

// advance moves the activity status forward, never backward, and never out of
// a terminal state.
func (s *Store) advance(to event.GenerationStatus) {
	if event.IsTerminalGenerationStatus(s.status) {
		return
	}
	if activityRank(to) > activityRank(s.status) {
		s.status = to
	}
}

func activityRank(status event.GenerationStatus) int {
	switch status {
	case event.GenerationStatusThinking:
		return 1
	case event.GenerationStatusGenerating:
		return 2
	}
	return 0
}

func (s *Store) touch(ts time.Time) {
	if !ts.IsZero() {
		s.updatedAt = ts
	}
}

// projectAgent folds a thinking step into the per-agent dashboard when the
// step names one of the pipeline roles.
func (s *Store) projectAgent(step *StepRecord) {
	role, ok := agentRoleFor(step)
	if !ok {
		return
	}
	agent, exists := s.agents[role]
	if !exists {
		agent = &event.AgentState{Agent: role, Status: event.AgentStatusIdle}
		s.agents[role] = agent
	}
	switch step.Status {
	case event.StepStatusCompleted:
		agent.Status = event.AgentStatusCompleted
		agent.CurrentAction = ""
	default:
		agent.Status = event.AgentStatusWorking
		agent.CurrentAction = step.Title
	}
}

// settleAgents closes out any agent still marked working once the run ends.
func (s *Store) settleAgents(final event.AgentStatus) {
	for _, agent := range s.agents {
		if agent.Status == event.AgentStatusWorking {
			agent.Status = final
			agent.CurrentAction = ""
		}
	}
}

func agentRoleFor(step *StepRecord) (event.AgentRole, bool) {
	text := strings.ToLower(step.Title + " " + step.Description)
	switch {
	case strings.Contains(text, "research") || strings.Contains(text, "search"):
		return event.AgentResearcher, true
	case strings.Contains(text, "plan") || strings.Contains(text, "outline") || strings.Contains(text, "structur"):
		return event.AgentPlanner, true
	case strings.Contains(text, "writ") || strings.Contains(text, "draft") || strings.Contains(text, "content"):
		return event.AgentWriter, true
	case strings.Contains(text, "design") || strings.Contains(text, "layout") || strings.Contains(text, "style"):
		return event.AgentDesigner, true
	}
	return "", false
}
