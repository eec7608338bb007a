// Package state holds the client-side reconciled view of a generation. Events
// from the server stream are folded into an id-keyed store one at a time;
// applying the same event twice leaves the store unchanged.
package state

import (
	"sort"
	"sync"
	"time"

	"deckwork/internal/artifacts"
	"deckwork/internal/event"
)

// StepRecord tracks one thinking step as a single evolving record.
type StepRecord struct {
	ID          string
	Title       string
	Description string
	Status      event.StepStatus
	Actions     []string
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// ToolRecord tracks one tool invocation. The started, completed and failed
// events for an id all land on the same record.
type ToolRecord struct {
	ID          string
	Type        string
	Status      event.ToolStatus
	Input       string
	Result      string
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	UpdatedAt   time.Time
}

// SlideRecord tracks one previewed slide. Records are stored in arrival order;
// Snapshot sorts by OrderIndex for display.
type SlideRecord struct {
	ID         string
	OrderIndex int
	Title      string
	Content    string
	Layout     event.Layout
	UpdatedAt  time.Time
}

// pipelineAgents fixes the display order of the agent dashboard.
var pipelineAgents = []event.AgentRole{
	event.AgentResearcher,
	event.AgentPlanner,
	event.AgentWriter,
	event.AgentDesigner,
}

// Store is the reconciled state for one user's active generation. All reads go
// through Snapshot; all writes go through Apply, which serializes event
// application so per-id upserts never interleave.
type Store struct {
	mu sync.RWMutex

	steps     map[string]*StepRecord
	stepOrder []string

	tools     map[string]*ToolRecord
	toolOrder []string

	slides     []*SlideRecord
	slideIndex map[string]int

	topics []string
	agents map[event.AgentRole]*event.AgentState

	status         event.GenerationStatus
	progress       int
	stage          string
	errorReason    string
	errorMessage   string
	warning        string
	presentationID string
	presentation   *artifacts.Presentation
	updatedAt      time.Time
}

// NewStore creates an empty store in the idle state.
func NewStore() *Store {
	return &Store{
		steps:      make(map[string]*StepRecord),
		tools:      make(map[string]*ToolRecord),
		slideIndex: make(map[string]int),
		agents:     make(map[event.AgentRole]*event.AgentState),
		status:     event.GenerationStatusIdle,
	}
}

// Update represents a mutation applied to the Store.
type Update interface {
	apply(store *Store)
}

// Apply mutates the store using the provided update.
func (s *Store) Apply(update Update) {
	if update == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	update.apply(s)
}

// ApplyEvent maps a wire event onto the store. Unknown or malformed events
// return an error and leave the store untouched.
func (s *Store) ApplyEvent(ev event.Event) error {
	update, err := FromEvent(ev)
	if err != nil {
		return err
	}
	s.Apply(update)
	return nil
}

// Running reports whether a generation is actively in flight.
func (s *Store) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == event.GenerationStatusThinking || s.status == event.GenerationStatusGenerating
}

// Status returns the current generation status.
func (s *Store) Status() event.GenerationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot is a copy of the store state safe to hold across updates.
type Snapshot struct {
	Status         event.GenerationStatus
	Progress       int
	Stage          string
	ErrorReason    string
	ErrorMessage   string
	Warning        string
	PresentationID string
	Topics         []string
	Steps          []*StepRecord
	Tools          []*ToolRecord
	Slides         []*SlideRecord
	Agents         []*event.AgentState
	Presentation   *artifacts.Presentation
	UpdatedAt      time.Time
}

// Running reports whether the snapshot was taken mid-generation.
func (s Snapshot) Running() bool {
	return s.Status == event.GenerationStatusThinking || s.Status == event.GenerationStatusGenerating
}

// CurrentStep returns the step the generator is working on, preferring the
// most recent record that has not completed.
func (s Snapshot) CurrentStep() *StepRecord {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Status != event.StepStatusCompleted {
			return s.Steps[i]
		}
	}
	if len(s.Steps) > 0 {
		return s.Steps[len(s.Steps)-1]
	}
	return nil
}

// Snapshot copies the current state. Steps and tools keep arrival order,
// slides come back sorted by OrderIndex, agents in pipeline order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		Status:         s.status,
		Progress:       s.progress,
		Stage:          s.stage,
		ErrorReason:    s.errorReason,
		ErrorMessage:   s.errorMessage,
		Warning:        s.warning,
		PresentationID: s.presentationID,
		Topics:         append([]string(nil), s.topics...),
		Steps:          make([]*StepRecord, 0, len(s.stepOrder)),
		Tools:          make([]*ToolRecord, 0, len(s.toolOrder)),
		Slides:         make([]*SlideRecord, 0, len(s.slides)),
		Agents:         make([]*event.AgentState, 0, len(s.agents)),
		Presentation:   clonePresentation(s.presentation),
		UpdatedAt:      s.updatedAt,
	}

	for _, id := range s.stepOrder {
		snapshot.Steps = append(snapshot.Steps, cloneStep(s.steps[id]))
	}
	for _, id := range s.toolOrder {
		snapshot.Tools = append(snapshot.Tools, cloneTool(s.tools[id]))
	}
	for _, slide := range s.slides {
		snapshot.Slides = append(snapshot.Slides, cloneSlide(slide))
	}
	sort.SliceStable(snapshot.Slides, func(i, j int) bool {
		if snapshot.Slides[i].OrderIndex != snapshot.Slides[j].OrderIndex {
			return snapshot.Slides[i].OrderIndex < snapshot.Slides[j].OrderIndex
		}
		return snapshot.Slides[i].ID < snapshot.Slides[j].ID
	})
	for _, role := range pipelineAgents {
		if agent, ok := s.agents[role]; ok {
			snapshot.Agents = append(snapshot.Agents, cloneAgent(agent))
		}
	}

	return snapshot
}

func cloneStep(step *StepRecord) *StepRecord {
	if step == nil {
		return nil
	}
	clone := *step
	if step.Actions != nil {
		clone.Actions = append([]string(nil), step.Actions...)
	}
	clone.StartedAt = copyTimePtr(step.StartedAt)
	clone.CompletedAt = copyTimePtr(step.CompletedAt)
	return &clone
}

func cloneTool(tool *ToolRecord) *ToolRecord {
	if tool == nil {
		return nil
	}
	clone := *tool
	clone.StartedAt = copyTimePtr(tool.StartedAt)
	clone.CompletedAt = copyTimePtr(tool.CompletedAt)
	return &clone
}

func cloneSlide(slide *SlideRecord) *SlideRecord {
	if slide == nil {
		return nil
	}
	clone := *slide
	return &clone
}

func cloneAgent(agent *event.AgentState) *event.AgentState {
	if agent == nil {
		return nil
	}
	clone := *agent
	if agent.Progress != nil {
		p := *agent.Progress
		clone.Progress = &p
	}
	return &clone
}

func clonePresentation(p *artifacts.Presentation) *artifacts.Presentation {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Topics = append([]string(nil), p.Topics...)
	clone.Slides = append([]artifacts.Slide(nil), p.Slides...)
	return &clone
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	t := *src
	return &t
}
