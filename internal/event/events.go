package event

import "time"

// Event type discriminators. The set is closed; the wire codec and the
// reconciler both switch on these values.
const (
	TypeThinkingStep        = "thinking:step"
	TypeToolStarted         = "tool:started"
	TypeToolCompleted       = "tool:completed"
	TypeToolFailed          = "tool:failed"
	TypeSlidePreview        = "slide:preview"
	TypeTopicsGenerated     = "topics:generated"
	TypeGenerationProgress  = "generation:progress"
	TypeGenerationCompleted = "generation:completed"
	TypeGenerationError     = "generation:error"
)

// Error reasons carried by generation:error events.
const (
	ReasonTaskFailed       = "task_failed"
	ReasonTimeout          = "timeout"
	ReasonCancelled        = "cancelled"
	ReasonExtractionFailed = "extraction_failed"
)

// Event is a progress event addressed to one user's session.
type Event interface {
	EventType() string
	Timestamp() time.Time
	GetUserID() string
}

// Listener consumes events (transport and reconciler layers).
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) {
	f(event)
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	timestamp time.Time
	userID    string
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BaseEvent) GetUserID() string {
	return e.userID
}

func newBaseEvent(userID string, ts time.Time) BaseEvent {
	return BaseEvent{
		timestamp: ts,
		userID:    userID,
	}
}

// ThinkingStepEvent - a reasoning step appeared or changed status.
type ThinkingStepEvent struct {
	BaseEvent
	Step ThinkingStep
}

func (e *ThinkingStepEvent) EventType() string { return TypeThinkingStep }

// NewThinkingStepEvent creates a new thinking step event.
func NewThinkingStepEvent(userID string, step ThinkingStep, ts time.Time) *ThinkingStepEvent {
	return &ThinkingStepEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Step:      step,
	}
}

// ToolStartedEvent - a tool invocation entered pending or running state.
type ToolStartedEvent struct {
	BaseEvent
	Tool ToolAction
}

func (e *ToolStartedEvent) EventType() string { return TypeToolStarted }

// NewToolStartedEvent creates a new tool started event.
func NewToolStartedEvent(userID string, tool ToolAction, ts time.Time) *ToolStartedEvent {
	return &ToolStartedEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Tool:      tool,
	}
}

// ToolCompletedEvent - a tool invocation finished successfully.
type ToolCompletedEvent struct {
	BaseEvent
	Tool ToolAction
}

func (e *ToolCompletedEvent) EventType() string { return TypeToolCompleted }

// NewToolCompletedEvent creates a new tool completed event.
func NewToolCompletedEvent(userID string, tool ToolAction, ts time.Time) *ToolCompletedEvent {
	return &ToolCompletedEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Tool:      tool,
	}
}

// ToolFailedEvent - a tool invocation finished with an error.
type ToolFailedEvent struct {
	BaseEvent
	Tool ToolAction
}

func (e *ToolFailedEvent) EventType() string { return TypeToolFailed }

// NewToolFailedEvent creates a new tool failed event.
func NewToolFailedEvent(userID string, tool ToolAction, ts time.Time) *ToolFailedEvent {
	return &ToolFailedEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Tool:      tool,
	}
}

// SlidePreviewEvent - a partial slide became available.
type SlidePreviewEvent struct {
	BaseEvent
	Slide SlidePreview
}

func (e *SlidePreviewEvent) EventType() string { return TypeSlidePreview }

// NewSlidePreviewEvent creates a new slide preview event.
func NewSlidePreviewEvent(userID string, slide SlidePreview, ts time.Time) *SlidePreviewEvent {
	return &SlidePreviewEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Slide:     slide,
	}
}

// TopicsGeneratedEvent - the topics task finished and its output parsed.
type TopicsGeneratedEvent struct {
	BaseEvent
	Topics []string
}

func (e *TopicsGeneratedEvent) EventType() string { return TypeTopicsGenerated }

// NewTopicsGeneratedEvent creates a new topics generated event.
func NewTopicsGeneratedEvent(userID string, topics []string, ts time.Time) *TopicsGeneratedEvent {
	return &TopicsGeneratedEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Topics:    topics,
	}
}

// GenerationProgressEvent - coarse progress forwarded from the task source.
type GenerationProgressEvent struct {
	BaseEvent
	Progress int // 0-100
	Stage    string
}

func (e *GenerationProgressEvent) EventType() string { return TypeGenerationProgress }

// NewGenerationProgressEvent creates a new generation progress event.
func NewGenerationProgressEvent(userID string, progress int, stage string, ts time.Time) *GenerationProgressEvent {
	return &GenerationProgressEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Progress:  progress,
		Stage:     stage,
	}
}

// GenerationCompletedEvent - the slides task finished; the durable artifact
// is ready to fetch.
type GenerationCompletedEvent struct {
	BaseEvent
	PresentationID string
	SlideCount     int
}

func (e *GenerationCompletedEvent) EventType() string { return TypeGenerationCompleted }

// NewGenerationCompletedEvent creates a new generation completed event.
func NewGenerationCompletedEvent(userID, presentationID string, slideCount int, ts time.Time) *GenerationCompletedEvent {
	return &GenerationCompletedEvent{
		BaseEvent:      newBaseEvent(userID, ts),
		PresentationID: presentationID,
		SlideCount:     slideCount,
	}
}

// GenerationErrorEvent - the generation ended without a result. Reason is one
// of the Reason constants; Message carries the upstream detail when present.
type GenerationErrorEvent struct {
	BaseEvent
	Reason  string
	Message string
}

func (e *GenerationErrorEvent) EventType() string { return TypeGenerationError }

// NewGenerationErrorEvent creates a new generation error event.
func NewGenerationErrorEvent(userID, reason, message string, ts time.Time) *GenerationErrorEvent {
	return &GenerationErrorEvent{
		BaseEvent: newBaseEvent(userID, ts),
		Reason:    reason,
		Message:   message,
	}
}

// IsTerminal reports whether the event ends a generation. Terminal events get
// delivery priority in the transport layer.
func IsTerminal(e Event) bool {
	switch e.EventType() {
	case TypeTopicsGenerated, TypeGenerationCompleted, TypeGenerationError:
		return true
	}
	return false
}
