package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"deckwork/internal/artifacts"
	"deckwork/internal/client/state"
	"deckwork/internal/event"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func encodeEvent(t *testing.T, ev event.Event) []byte {
	t.Helper()
	frame, err := event.Encode(ev)
	require.NoError(t, err)
	return frame
}

// streamServer upgrades each connection, sends the scripted frames for that
// connection index, then either holds the connection open or closes it.
type streamServer struct {
	script      func(conn *websocket.Conn, connection int) (hold bool)
	connections atomic.Int32
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("user_id") == "" {
		http.Error(w, "user_id missing", http.StatusBadRequest)
		return
	}
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connection := int(s.connections.Add(1))
	if !s.script(conn, connection) {
		return
	}
	// Hold until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

type stubFetcher struct {
	presentation  *artifacts.Presentation
	err           error
	statusAtFetch atomic.Value
	onFetch       func()
}

func (f *stubFetcher) Presentation(ctx context.Context, id string) (*artifacts.Presentation, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.presentation, f.err
}

func TestConsumerAppliesStreamedEvents(t *testing.T) {
	now := time.Now()
	frames := [][]byte{
		encodeEvent(t, event.NewThinkingStepEvent("alice",
			event.ThinkingStep{ID: "s1", Title: "Research", Status: event.StepStatusRunning}, now)),
		encodeEvent(t, event.NewToolStartedEvent("alice",
			event.ToolAction{ID: "t1", Type: "search", Status: event.ToolStatusRunning}, now)),
		encodeEvent(t, event.NewGenerationCompletedEvent("alice", "pres-1", 3, now)),
	}

	server := &streamServer{script: func(conn *websocket.Conn, connection int) bool {
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return false
			}
		}
		return true
	}}
	ts := httptest.NewServer(server)
	defer ts.Close()

	store := state.NewStore()
	fetcher := &stubFetcher{presentation: &artifacts.Presentation{
		ID: "pres-1", UserID: "alice", Title: "Solar 101",
		Slides: []artifacts.Slide{{ID: "sl1", Title: "Intro"}},
	}}
	fetcher.onFetch = func() {
		fetcher.statusAtFetch.Store(store.Status())
	}

	consumer := NewConsumer(ConsumerConfig{
		ServerURL: ts.URL,
		UserID:    "alice",
		Reconnect: fastRetry(),
	}, store, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	waitFor(t, func() bool { return store.Status() == event.GenerationStatusCompleted })

	snapshot := store.Snapshot()
	require.Len(t, snapshot.Steps, 1)
	require.Len(t, snapshot.Tools, 1)
	require.Equal(t, "pres-1", snapshot.PresentationID)
	require.Empty(t, snapshot.Warning)
	require.NotNil(t, snapshot.Presentation)
	require.Equal(t, "Solar 101", snapshot.Presentation.Title)

	// The artifact was fetched before the status flipped to completed.
	require.Equal(t, event.GenerationStatusThinking, fetcher.statusAtFetch.Load())
}

func TestConsumerReconnectsAfterDrop(t *testing.T) {
	now := time.Now()
	first := encodeEvent(t, event.NewThinkingStepEvent("alice",
		event.ThinkingStep{ID: "s1", Title: "Research", Status: event.StepStatusRunning}, now))
	second := encodeEvent(t, event.NewThinkingStepEvent("alice",
		event.ThinkingStep{ID: "s2", Title: "Draft", Status: event.StepStatusRunning}, now))

	server := &streamServer{script: func(conn *websocket.Conn, connection int) bool {
		if connection == 1 {
			conn.WriteMessage(websocket.TextMessage, first)
			return false // drop the connection
		}
		// The replayed first event plus the one missed during the outage.
		conn.WriteMessage(websocket.TextMessage, first)
		conn.WriteMessage(websocket.TextMessage, second)
		return true
	}}
	ts := httptest.NewServer(server)
	defer ts.Close()

	store := state.NewStore()
	consumer := NewConsumer(ConsumerConfig{
		ServerURL: ts.URL,
		UserID:    "alice",
		Replay:    true,
		Reconnect: fastRetry(),
	}, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	waitFor(t, func() bool { return len(store.Snapshot().Steps) == 2 })

	require.GreaterOrEqual(t, server.connections.Load(), int32(2))
	snapshot := store.Snapshot()
	require.Equal(t, "s1", snapshot.Steps[0].ID)
	require.Equal(t, "s2", snapshot.Steps[1].ID)
}

func TestConsumerFlagsMissingArtifact(t *testing.T) {
	now := time.Now()
	completion := encodeEvent(t, event.NewGenerationCompletedEvent("alice", "pres-9", 2, now))

	server := &streamServer{script: func(conn *websocket.Conn, connection int) bool {
		conn.WriteMessage(websocket.TextMessage, completion)
		return true
	}}
	ts := httptest.NewServer(server)
	defer ts.Close()

	store := state.NewStore()
	fetcher := &stubFetcher{err: artifacts.ErrNotFound}
	consumer := NewConsumer(ConsumerConfig{
		ServerURL: ts.URL,
		UserID:    "alice",
		Reconnect: fastRetry(),
	}, store, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	waitFor(t, func() bool { return store.Status() == event.GenerationStatusCompleted })

	snapshot := store.Snapshot()
	require.Contains(t, snapshot.Warning, "final presentation unavailable")
	require.Nil(t, snapshot.Presentation)
}

func TestConsumerRequiresUserID(t *testing.T) {
	consumer := NewConsumer(ConsumerConfig{ServerURL: "http://localhost:1"}, state.NewStore(), nil, nil)
	require.Error(t, consumer.Run(context.Background()))
}
