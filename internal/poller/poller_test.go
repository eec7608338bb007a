package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
	"deckwork/internal/registry"
	"deckwork/internal/upstream"
)

// stubClient scripts TaskStatus responses by call number.
type stubClient struct {
	mu       sync.Mutex
	calls    int
	statusFn func(call int) (*upstream.RawStatus, error)
}

func (c *stubClient) CreateTask(ctx context.Context, req upstream.CreateTaskRequest) (string, error) {
	return "task-stub", nil
}

func (c *stubClient) TaskStatus(ctx context.Context, taskID string) (*upstream.RawStatus, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	return c.statusFn(call)
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingListener captures every emitted event and signals terminal ones.
type recordingListener struct {
	mu       sync.Mutex
	events   []event.Event
	terminal chan event.Event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{terminal: make(chan event.Event, 8)}
}

func (l *recordingListener) OnEvent(ev event.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if event.IsTerminal(ev) {
		l.terminal <- ev
	}
}

func (l *recordingListener) byType(eventType string) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, ev := range l.events {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (l *recordingListener) waitTerminal(t *testing.T) event.Event {
	t.Helper()
	select {
	case ev := <-l.terminal:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal event")
		return nil
	}
}

func waitDrained(t *testing.T, reg *registry.Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.ActiveCount() == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("registry still reports %d active tasks", reg.ActiveCount())
}

func fastConfig() Config {
	return Config{
		Interval:    time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MaxAttempts: 50,
	}
}

func slidesTask() Task {
	return Task{TaskID: "task-1", UserID: "user-1", PresentationID: "pres-1", TaskType: event.TaskTypeSlides}
}

func topicsTask() Task {
	return Task{TaskID: "task-1", UserID: "user-1", TaskType: event.TaskTypeTopics}
}

func TestPollerDedupsAcrossPolls(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		if call < 4 {
			return &upstream.RawStatus{
				Status: "running",
				ThinkingSteps: []upstream.RawStep{
					{ID: "s1", Title: "Outline", Status: "running"},
				},
			}, nil
		}
		return &upstream.RawStatus{
			Status: "completed",
			ThinkingSteps: []upstream.RawStep{
				{ID: "s1", Title: "Outline", Status: "completed"},
			},
		}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	require.Equal(t, event.TypeGenerationCompleted, ev.EventType())
	waitDrained(t, reg)

	// Three polls reported the same running step; it surfaced once, plus the
	// completion transition from the final poll.
	steps := listener.byType(event.TypeThinkingStep)
	require.Len(t, steps, 2)
	require.Equal(t, event.StepStatusRunning, steps[0].(*event.ThinkingStepEvent).Step.Status)
	require.Equal(t, event.StepStatusCompleted, steps[1].(*event.ThinkingStepEvent).Step.Status)
}

func TestPollerTimesOutAfterAttemptCeiling(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{Status: "running"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	config := fastConfig()
	config.MaxAttempts = 5
	p := New(client, listener, reg, config, nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	errEvent, ok := ev.(*event.GenerationErrorEvent)
	require.True(t, ok)
	require.Equal(t, event.ReasonTimeout, errEvent.Reason)
	waitDrained(t, reg)

	require.Equal(t, 5, client.callCount())
	require.Len(t, listener.byType(event.TypeGenerationError), 1)
}

func TestPollerFetchFailuresCountTowardCeiling(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		return nil, deckerrors.NewTransientError(fmt.Errorf("dial tcp: connection refused"), "upstream unreachable")
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	config := fastConfig()
	config.MaxAttempts = 4
	p := New(client, listener, reg, config, nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	errEvent := ev.(*event.GenerationErrorEvent)
	require.Equal(t, event.ReasonTimeout, errEvent.Reason)
	waitDrained(t, reg)

	require.Equal(t, 4, client.callCount())
}

func TestPollerRecoversAfterTransientFailures(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		if call <= 2 {
			return nil, deckerrors.NewTransientError(fmt.Errorf("upstream hiccup"), "status fetch failed")
		}
		return &upstream.RawStatus{Status: "completed"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	require.Equal(t, event.TypeGenerationCompleted, ev.EventType())
	waitDrained(t, reg)
	require.Equal(t, 3, client.callCount())
}

func TestPollerUpstreamFailureEmitsError(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		if call == 1 {
			return &upstream.RawStatus{Status: "running"}, nil
		}
		return &upstream.RawStatus{Status: "failed", Error: "model refused the prompt"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	errEvent := ev.(*event.GenerationErrorEvent)
	require.Equal(t, event.ReasonTaskFailed, errEvent.Reason)
	require.Equal(t, "model refused the prompt", errEvent.Message)
	waitDrained(t, reg)
	require.Len(t, listener.byType(event.TypeGenerationError), 1)
}

func TestPollerExtractsTopicsOnCompletion(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{
			Status: "completed",
			Output: "```json\n[\"A\",\"B\",\"C\",\"D\",\"E\",\"F\"]\n```",
		}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), topicsTask()))

	ev := listener.waitTerminal(t)
	topicsEvent, ok := ev.(*event.TopicsGeneratedEvent)
	require.True(t, ok)
	require.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, topicsEvent.Topics)
	waitDrained(t, reg)
}

func TestPollerExtractionFailureIsItsOwnReason(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{
			Status: "completed",
			Output: "Sorry, I answered in prose instead of a list.",
		}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), topicsTask()))

	ev := listener.waitTerminal(t)
	errEvent := ev.(*event.GenerationErrorEvent)
	require.Equal(t, event.ReasonExtractionFailed, errEvent.Reason)
	waitDrained(t, reg)
}

func TestPollerCompletionReportsSlideCount(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		switch call {
		case 1:
			return &upstream.RawStatus{
				Status: "running",
				Output: `[{"id":"s1","title":"Intro","content":"c"}]`,
			}, nil
		default:
			return &upstream.RawStatus{
				Status: "completed",
				Output: `[{"id":"s1","title":"Intro","content":"c"},{"id":"s2","title":"End","content":"c"}]`,
			}, nil
		}
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	ev := listener.waitTerminal(t)
	completed := ev.(*event.GenerationCompletedEvent)
	require.Equal(t, "pres-1", completed.PresentationID)
	require.Equal(t, 2, completed.SlideCount)
	waitDrained(t, reg)

	require.Len(t, listener.byType(event.TypeSlidePreview), 2)
}

func TestPollerRejectsDuplicateTask(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{Status: "running"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))
	err := p.Start(context.Background(), slidesTask())
	require.ErrorIs(t, err, registry.ErrAlreadyRegistered)

	reg.Cancel("task-1")
	listener.waitTerminal(t)
	waitDrained(t, reg)
}

func TestPollerCancelDiscardsInFlightResult(t *testing.T) {
	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		once.Do(func() { close(fetchStarted) })
		<-release
		// A completed payload that must never surface: the task was
		// cancelled while this fetch was in flight.
		return &upstream.RawStatus{Status: "completed"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	require.NoError(t, p.Start(context.Background(), slidesTask()))

	<-fetchStarted
	require.True(t, reg.Cancel("task-1"))
	close(release)

	ev := listener.waitTerminal(t)
	errEvent, ok := ev.(*event.GenerationErrorEvent)
	require.True(t, ok)
	require.Equal(t, event.ReasonCancelled, errEvent.Reason)
	waitDrained(t, reg)

	require.Empty(t, listener.byType(event.TypeGenerationCompleted))
}

func TestPollerDetachedFromCallerContext(t *testing.T) {
	client := &stubClient{statusFn: func(call int) (*upstream.RawStatus, error) {
		if call < 3 {
			return &upstream.RawStatus{Status: "running"}, nil
		}
		return &upstream.RawStatus{Status: "completed"}, nil
	}}

	listener := newRecordingListener()
	reg := registry.New(nil)
	p := New(client, listener, reg, fastConfig(), nil)

	// The request context that started the generation goes away immediately,
	// like a closed HTTP connection. Polling keeps going.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx, slidesTask()))
	cancel()

	ev := listener.waitTerminal(t)
	require.Equal(t, event.TypeGenerationCompleted, ev.EventType())
	waitDrained(t, reg)
}
