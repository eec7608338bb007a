package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"deckwork/internal/artifacts"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
	"deckwork/internal/ids"
	"deckwork/internal/logging"
	"deckwork/internal/poller"
	"deckwork/internal/registry"
	"deckwork/internal/upstream"
)

// StartRequest describes one generation to run.
type StartRequest struct {
	UserID         string         `json:"user_id"`
	Prompt         string         `json:"prompt"`
	TaskType       event.TaskType `json:"task_type"`
	PresentationID string         `json:"presentation_id,omitempty"`
}

// Service owns the generation lifecycle: it creates upstream tasks, records
// them, starts a poll loop per task, and keeps the records in sync with the
// terminal events the loops emit. Live events flow to the injected transport
// unchanged; the service only observes them.
type Service struct {
	client     upstream.Client
	store      Store
	registry   *registry.Registry
	transport  event.Listener
	artifacts  artifacts.Store
	pollConfig poller.Config
	logger     logging.Logger
	retry      deckerrors.RetryConfig
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithRetryConfig overrides the retry policy used for upstream task creation.
func WithRetryConfig(config deckerrors.RetryConfig) ServiceOption {
	return func(s *Service) { s.retry = config }
}

// WithArtifactStore makes the service persist the assembled presentation when
// a slides run completes. The write happens before the completion event
// reaches the transport, so a client reacting to the event finds the
// presentation already fetchable.
func WithArtifactStore(store artifacts.Store) ServiceOption {
	return func(s *Service) { s.artifacts = store }
}

// NewService wires a Service. The transport listener receives every event
// produced by the poll loops and must be safe for concurrent use.
func NewService(client upstream.Client, store Store, reg *registry.Registry, transport event.Listener, pollConfig poller.Config, logger logging.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		client:     client,
		store:      store,
		registry:   reg,
		transport:  transport,
		pollConfig: pollConfig,
		logger:     logging.OrNop(logger),
		retry:      deckerrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGeneration creates the upstream task and begins polling it. The
// returned record is a snapshot; its status advances asynchronously as the
// poll loop reports in.
func (s *Service) StartGeneration(ctx context.Context, req StartRequest) (*Generation, error) {
	if err := validateStartRequest(&req); err != nil {
		return nil, err
	}

	gen := &Generation{
		ID:             ids.NewGenerationID(),
		UserID:         req.UserID,
		PresentationID: req.PresentationID,
		TaskType:       req.TaskType,
		Prompt:         req.Prompt,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Create(ctx, gen); err != nil {
		return nil, fmt.Errorf("record generation: %w", err)
	}

	taskID, err := deckerrors.RetryWithResultAndLog(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.client.CreateTask(ctx, upstream.CreateTaskRequest{
			Prompt:         req.Prompt,
			TaskType:       req.TaskType,
			UserID:         req.UserID,
			PresentationID: req.PresentationID,
		})
	}, s.logger)
	if err != nil {
		_ = s.store.SetError(ctx, gen.ID, StatusFailed, fmt.Sprintf("create task: %v", err))
		return nil, fmt.Errorf("create upstream task: %w", err)
	}
	if err := s.store.BindTask(ctx, gen.ID, taskID); err != nil {
		return nil, fmt.Errorf("bind task: %w", err)
	}

	observer := newGenerationObserver(s, gen.ID, s.transport)
	watcher := poller.New(s.client, observer, s.registry, s.pollConfig, s.logger)
	if err := watcher.Start(ctx, poller.Task{
		TaskID:         taskID,
		UserID:         req.UserID,
		PresentationID: req.PresentationID,
		TaskType:       req.TaskType,
	}); err != nil {
		_ = s.store.SetError(ctx, gen.ID, StatusFailed, fmt.Sprintf("start poller: %v", err))
		return nil, fmt.Errorf("start poller: %w", err)
	}

	if err := s.store.SetStatus(ctx, gen.ID, StatusRunning); err != nil {
		s.logger.Warn("Failed to mark generation %s running: %v", gen.ID, err)
	}
	s.logger.Info("Generation %s started (task=%s, type=%s, user=%s)", gen.ID, taskID, req.TaskType, req.UserID)

	return s.store.Get(ctx, gen.ID)
}

// Cancel stops the poll loop for one generation. The loop emits the terminal
// cancelled event; the record is updated through the observer like any other
// termination.
func (s *Service) Cancel(ctx context.Context, generationID string) error {
	gen, err := s.store.Get(ctx, generationID)
	if err != nil {
		return err
	}
	if gen.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, generationID, gen.Status)
	}
	if gen.TaskID == "" || !s.registry.Cancel(gen.TaskID) {
		// No loop to stop; finish the record directly.
		return s.store.SetError(ctx, generationID, StatusCancelled, "generation cancelled")
	}
	return nil
}

// CancelAll stops every active poll loop and returns how many were stopped.
func (s *Service) CancelAll(ctx context.Context) int {
	return s.registry.CancelAll()
}

// Get returns one generation record.
func (s *Service) Get(ctx context.Context, generationID string) (*Generation, error) {
	return s.store.Get(ctx, generationID)
}

// List returns generation records with pagination, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Generation, int, error) {
	return s.store.List(ctx, limit, offset)
}

// ListByUser returns a user's generation records, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Generation, error) {
	return s.store.ListByUser(ctx, userID)
}

// ActiveCount reports how many poll loops are currently running.
func (s *Service) ActiveCount() int {
	return s.registry.ActiveCount()
}

func validateStartRequest(req *StartRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Prompt = strings.TrimSpace(req.Prompt)

	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if req.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	switch req.TaskType {
	case event.TaskTypeTopics:
	case event.TaskTypeSlides:
		if req.PresentationID == "" {
			req.PresentationID = ids.NewPresentationID()
		}
	default:
		return fmt.Errorf("unknown task type %q", req.TaskType)
	}
	return nil
}

// observe keeps the stored record in sync with what the poll loop reported.
// Events arrive from the loop goroutine after the store write for creation
// completed, so ordering is safe.
func (s *Service) observe(generationID string, ev event.Event) {
	ctx := context.Background()
	var err error

	switch e := ev.(type) {
	case *event.GenerationProgressEvent:
		err = s.store.SetProgress(ctx, generationID, e.Progress)
	case *event.TopicsGeneratedEvent:
		err = s.store.SetTopics(ctx, generationID, e.Topics)
	case *event.GenerationCompletedEvent:
		err = s.store.SetCompleted(ctx, generationID, e.SlideCount)
	case *event.GenerationErrorEvent:
		err = s.store.SetError(ctx, generationID, statusForReason(e.Reason), e.Message)
	default:
		return
	}

	if err != nil {
		s.logger.Warn("Failed to update generation %s from %s event: %v", generationID, ev.EventType(), err)
	}
}

func statusForReason(reason string) Status {
	switch reason {
	case event.ReasonTimeout:
		return StatusTimeout
	case event.ReasonCancelled:
		return StatusCancelled
	}
	return StatusFailed
}

// persistPresentation writes the assembled artifact for a completed slides
// run. Best effort: a failed write is logged, not propagated, since the
// completion event must still reach the client.
func (s *Service) persistPresentation(generationID, presentationID, userID string, slides []artifacts.Slide) {
	if s.artifacts == nil || presentationID == "" {
		return
	}
	ctx := context.Background()

	title := ""
	if gen, err := s.store.Get(ctx, generationID); err == nil {
		title = deriveTitle(gen.Prompt, slides)
	}

	err := s.artifacts.Save(ctx, &artifacts.Presentation{
		ID:     presentationID,
		UserID: userID,
		Title:  title,
		Slides: slides,
	})
	if err != nil {
		s.logger.Error("Failed to persist presentation %s for generation %s: %v", presentationID, generationID, err)
		return
	}
	s.logger.Info("Persisted presentation %s with %d slides", presentationID, len(slides))
}

// deriveTitle picks a display title for the artifact: the cover slide if
// there is one, otherwise the first slide, otherwise the prompt.
func deriveTitle(prompt string, slides []artifacts.Slide) string {
	for _, slide := range slides {
		if slide.Layout == string(event.LayoutTitleSlide) && slide.Title != "" {
			return slide.Title
		}
	}
	if len(slides) > 0 && slides[0].Title != "" {
		return slides[0].Title
	}
	if len(prompt) > 80 {
		return prompt[:80]
	}
	return prompt
}

// generationObserver tees poll loop events into the service's record keeping
// before forwarding them to the transport. One observer per generation; the
// events themselves carry only the user address, so this is where they are
// correlated back to the record they belong to. OnEvent is only called from
// the generation's own poll goroutine, so the slide scratchpad needs no lock.
type generationObserver struct {
	service      *Service
	generationID string
	next         event.Listener
	slides       map[string]event.SlidePreview
}

func newGenerationObserver(service *Service, generationID string, next event.Listener) *generationObserver {
	return &generationObserver{
		service:      service,
		generationID: generationID,
		next:         next,
		slides:       make(map[string]event.SlidePreview),
	}
}

func (o *generationObserver) OnEvent(ev event.Event) {
	switch e := ev.(type) {
	case *event.SlidePreviewEvent:
		o.slides[e.Slide.ID] = e.Slide
	case *event.GenerationCompletedEvent:
		o.service.persistPresentation(o.generationID, e.PresentationID, e.GetUserID(), o.finishedSlides())
	}

	o.service.observe(o.generationID, ev)
	if o.next != nil {
		o.next.OnEvent(ev)
	}
}

func (o *generationObserver) finishedSlides() []artifacts.Slide {
	slides := make([]artifacts.Slide, 0, len(o.slides))
	for _, preview := range o.slides {
		slides = append(slides, artifacts.Slide{
			ID:         preview.ID,
			OrderIndex: preview.OrderIndex,
			Title:      preview.Title,
			Content:    preview.Content,
			Layout:     string(preview.Layout),
		})
	}
	sort.Slice(slides, func(i, j int) bool {
		if slides[i].OrderIndex != slides[j].OrderIndex {
			return slides[i].OrderIndex < slides[j].OrderIndex
		}
		return slides[i].ID < slides[j].ID
	})
	return slides
}
