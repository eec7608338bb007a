package poller

import (
	"context"
	"fmt"
	"time"

	"deckwork/internal/async"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
	"deckwork/internal/logging"
	"deckwork/internal/registry"
	"deckwork/internal/upstream"
)

const (
	// DefaultInterval is the pause between successful status checks.
	DefaultInterval = 2 * time.Second
	// DefaultMaxBackoff caps the pause after consecutive fetch failures.
	DefaultMaxBackoff = 10 * time.Second
	// DefaultMaxAttempts bounds how many status checks a task gets before the
	// poller declares a timeout.
	DefaultMaxAttempts = 300
	// DefaultDedupCapacity bounds per-task dedup state.
	DefaultDedupCapacity = 4096
)

// Config tunes the poll loop. The zero value is usable; unset fields fall
// back to the defaults above.
type Config struct {
	Interval      time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	JitterFactor  float64
	DedupCapacity int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.25
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
	return c
}

// Task identifies one generation task being watched.
type Task struct {
	TaskID         string
	UserID         string
	PresentationID string
	TaskType       event.TaskType
}

// Poller watches upstream tasks and emits typed events for everything that
// happens to them. One goroutine per task, tracked in the registry so callers
// can cancel individual tasks or everything at once.
type Poller struct {
	client   upstream.Client
	listener event.Listener
	registry *registry.Registry
	config   Config
	logger   logging.Logger
	metrics  *Metrics
}

// Option customizes a Poller.
type Option func(*Poller)

// WithMetrics overrides the default metrics set, mainly for tests that want
// an isolated prometheus registry.
func WithMetrics(m *Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// New builds a Poller. The listener receives every event the poll loops
// produce; it must be safe for concurrent use.
func New(client upstream.Client, listener event.Listener, reg *registry.Registry, config Config, logger logging.Logger, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		listener: listener,
		registry: reg,
		config:   config.withDefaults(),
		logger:   logging.OrNop(logger),
		metrics:  defaultMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling the given task in a new goroutine. It fails if a loop
// for the same task id is already running. The loop is detached from ctx's
// cancellation so an aborted HTTP request does not kill a generation; use the
// registry (or Stop on the owning service) to cancel it.
func (p *Poller) Start(ctx context.Context, task Task) error {
	if task.TaskID == "" {
		return fmt.Errorf("start poller: task id is empty")
	}
	if task.UserID == "" {
		return fmt.Errorf("start poller: user id is empty for task %s", task.TaskID)
	}

	pollCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if err := p.registry.Register(task.TaskID, cancel); err != nil {
		cancel(nil)
		return err
	}

	p.logger.Info("Starting poller for task %s (type=%s, user=%s)", task.TaskID, task.TaskType, task.UserID)
	async.Go(p.logger, "poller:"+task.TaskID, func() {
		p.run(pollCtx, task)
	})
	return nil
}

// run is the poll loop. Every iteration counts toward the attempt ceiling,
// whether the fetch succeeded or not, so the loop terminates after a bounded
// number of checks no matter how the upstream behaves.
func (p *Poller) run(ctx context.Context, task Task) {
	defer p.registry.Remove(task.TaskID)
	p.metrics.IncActivePollers()
	defer p.metrics.DecActivePollers()

	tr := newTranslator(task, p.config.DedupCapacity, p.logger)
	backoffConfig := deckerrors.RetryConfig{
		BaseDelay:    p.config.Interval,
		MaxDelay:     p.config.MaxBackoff,
		JitterFactor: p.config.JitterFactor,
	}

	consecutiveFailures := 0
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.finishCancelled(task)
			return
		}

		start := time.Now()
		status, err := p.client.TaskStatus(ctx, task.TaskID)
		if ctx.Err() != nil {
			// Cancelled while the fetch was in flight. The result, if any,
			// is discarded unseen.
			p.finishCancelled(task)
			return
		}

		if err != nil {
			consecutiveFailures++
			class := "transient"
			if deckerrors.IsPermanent(err) {
				class = "permanent"
			}
			p.metrics.ObservePoll(string(task.TaskType), "error", time.Since(start))
			p.metrics.IncPollFailure(string(task.TaskType), class)
			p.logger.Warn("Status fetch for task %s failed (attempt %d/%d, %s): %v", task.TaskID, attempt, p.config.MaxAttempts, class, err)
		} else {
			p.metrics.ObservePoll(string(task.TaskType), "ok", time.Since(start))
			consecutiveFailures = 0

			p.emit(tr.Translate(status, time.Now()))

			switch status.State() {
			case upstream.StateCompleted:
				p.finishCompleted(task, tr, status)
				return
			case upstream.StateFailed:
				p.finishFailed(task, status)
				return
			case upstream.StateCancelled:
				p.logger.Info("Task %s was cancelled upstream", task.TaskID)
				p.finishCancelled(task)
				return
			case upstream.StateUnknown:
				p.logger.Warn("Task %s reported unrecognized status %q, still polling", task.TaskID, status.Status)
			}
		}

		if attempt == p.config.MaxAttempts {
			break
		}

		delay := p.config.Interval
		if consecutiveFailures > 0 {
			delay = deckerrors.Backoff(consecutiveFailures-1, backoffConfig)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			p.finishCancelled(task)
			return
		}
	}

	p.logger.Error("Task %s did not reach a terminal status within %d checks, giving up", task.TaskID, p.config.MaxAttempts)
	p.emitOne(event.NewGenerationErrorEvent(task.UserID, event.ReasonTimeout,
		fmt.Sprintf("generation timed out after %d status checks", p.config.MaxAttempts), time.Now()))
	p.metrics.IncTermination(string(task.TaskType), "timeout")
}

// finishCompleted handles the terminal completed status. Topic tasks get
// their topics extracted from the output; slide tasks report the finished
// presentation. Extraction failure is surfaced as its own error reason so
// clients can distinguish "the generator broke" from "the generator answered
// in a shape we could not use".
func (p *Poller) finishCompleted(task Task, tr *translator, status *upstream.RawStatus) {
	if task.TaskType == event.TaskTypeTopics {
		topics, err := ExtractTopics(status.Output)
		if err != nil {
			p.logger.Error("Topic extraction for task %s failed: %v", task.TaskID, err)
			p.emitOne(event.NewGenerationErrorEvent(task.UserID, event.ReasonExtractionFailed,
				"could not extract a topic list from the generator output", time.Now()))
			p.metrics.IncTermination(string(task.TaskType), event.ReasonExtractionFailed)
			return
		}
		p.logger.Info("Task %s completed with %d topics", task.TaskID, len(topics))
		p.emitOne(event.NewTopicsGeneratedEvent(task.UserID, topics, time.Now()))
		p.metrics.IncTermination(string(task.TaskType), "completed")
		return
	}

	p.logger.Info("Task %s completed with %d slides", task.TaskID, tr.SlideCount())
	p.emitOne(event.NewGenerationCompletedEvent(task.UserID, task.PresentationID, tr.SlideCount(), time.Now()))
	p.metrics.IncTermination(string(task.TaskType), "completed")
}

func (p *Poller) finishFailed(task Task, status *upstream.RawStatus) {
	message := status.Error
	if message == "" {
		message = "generation failed"
	}
	p.logger.Error("Task %s failed upstream: %s", task.TaskID, message)
	p.emitOne(event.NewGenerationErrorEvent(task.UserID, event.ReasonTaskFailed, message, time.Now()))
	p.metrics.IncTermination(string(task.TaskType), "failed")
}

func (p *Poller) finishCancelled(task Task) {
	p.logger.Info("Polling for task %s stopped by cancellation", task.TaskID)
	p.emitOne(event.NewGenerationErrorEvent(task.UserID, event.ReasonCancelled, "generation cancelled", time.Now()))
	p.metrics.IncTermination(string(task.TaskType), "cancelled")
}

func (p *Poller) emit(events []event.Event) {
	for _, ev := range events {
		p.emitOne(ev)
	}
}

func (p *Poller) emitOne(ev event.Event) {
	if ev == nil {
		return
	}
	p.metrics.IncEventEmitted(ev.EventType())
	p.listener.OnEvent(ev)
}
