package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deckwork/internal/artifacts"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
	"deckwork/internal/orchestrator"
	"deckwork/internal/poller"
	"deckwork/internal/registry"
	"deckwork/internal/transport"
	"deckwork/internal/upstream"
)

type scriptedUpstream struct {
	mu       sync.Mutex
	calls    int
	statusFn func(call int) (*upstream.RawStatus, error)
}

func (s *scriptedUpstream) CreateTask(ctx context.Context, req upstream.CreateTaskRequest) (string, error) {
	return "task-http", nil
}

func (s *scriptedUpstream) TaskStatus(ctx context.Context, taskID string) (*upstream.RawStatus, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.statusFn == nil {
		return &upstream.RawStatus{Status: "running"}, nil
	}
	return s.statusFn(call)
}

type testEnv struct {
	server    *Server
	hub       *transport.Hub
	artifacts *artifacts.MemoryStore
	service   *orchestrator.Service
}

func newTestEnv(statusFn func(call int) (*upstream.RawStatus, error)) *testEnv {
	hub := transport.NewHub(nil)
	artifactStore := artifacts.NewMemoryStore()
	reg := registry.New(nil)
	pollConfig := poller.Config{Interval: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxAttempts: 50}
	retry := deckerrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterFactor: 0.1}

	service := orchestrator.NewService(
		&scriptedUpstream{statusFn: statusFn},
		orchestrator.NewMemoryStore(),
		reg,
		hub,
		pollConfig,
		nil,
		orchestrator.WithRetryConfig(retry),
		orchestrator.WithArtifactStore(artifactStore),
	)

	server := NewServer(Config{}, service, hub, artifactStore)
	return &testEnv{server: server, hub: hub, artifacts: artifactStore, service: service}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) (APIResponse, map[string]any) {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

func (e *testEnv) waitTerminal(t *testing.T, generationID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := e.do(t, http.MethodGet, "/api/generations/"+generationID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 polling generation, got %d: %s", rr.Code, rr.Body.String())
		}
		_, data := decodeResponse(t, rr)
		status, _ := data["status"].(string)
		if orchestrator.Status(status).Terminal() {
			return data
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("generation never reached a terminal status")
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(nil)

	rr := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp, data := decodeResponse(t, rr)
	if !resp.Success {
		t.Fatalf("expected success response, got %s", rr.Body.String())
	}
	if data["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", data["status"])
	}
}

func TestCreateGenerationValidatesBody(t *testing.T) {
	env := newTestEnv(nil)

	rr := env.do(t, http.MethodPost, "/api/generations", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/generations", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", rr.Code)
	}
}

func TestGenerationLifecycleOverREST(t *testing.T) {
	env := newTestEnv(func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{
			Status: "completed",
			Output: `["One","Two","Three","Four","Five"]`,
		}, nil
	})

	rr := env.do(t, http.MethodPost, "/api/generations",
		`{"user_id":"alice","prompt":"solar power","task_type":"topics"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	_, data := decodeResponse(t, rr)
	generationID, _ := data["generation_id"].(string)
	if generationID == "" {
		t.Fatalf("response carries no generation_id: %s", rr.Body.String())
	}

	final := env.waitTerminal(t, generationID)
	if final["status"] != string(orchestrator.StatusCompleted) {
		t.Fatalf("expected completed, got %v (error %v)", final["status"], final["error"])
	}
	topics, _ := final["topics"].([]any)
	if len(topics) != 5 {
		t.Fatalf("expected 5 topics, got %v", final["topics"])
	}

	// The user's listing contains the run.
	rr = env.do(t, http.MethodGet, "/api/generations?user_id=alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	_, data = decodeResponse(t, rr)
	if total, _ := data["total"].(float64); total != 1 {
		t.Fatalf("expected 1 generation for alice, got %v", data["total"])
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	env := newTestEnv(nil)

	rr := env.do(t, http.MethodGet, "/api/generations/gen-missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCancelFinishedGenerationConflicts(t *testing.T) {
	env := newTestEnv(func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{Status: "completed", Output: `["a","b","c","d","e"]`}, nil
	})

	rr := env.do(t, http.MethodPost, "/api/generations",
		`{"user_id":"alice","prompt":"p","task_type":"topics"}`)
	_, data := decodeResponse(t, rr)
	generationID, _ := data["generation_id"].(string)

	env.waitTerminal(t, generationID)

	rr = env.do(t, http.MethodDelete, "/api/generations/"+generationID, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancelRunningGeneration(t *testing.T) {
	env := newTestEnv(nil) // upstream never finishes

	rr := env.do(t, http.MethodPost, "/api/generations",
		`{"user_id":"alice","prompt":"p","task_type":"topics"}`)
	_, data := decodeResponse(t, rr)
	generationID, _ := data["generation_id"].(string)

	rr = env.do(t, http.MethodDelete, "/api/generations/"+generationID, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	final := env.waitTerminal(t, generationID)
	if final["status"] != string(orchestrator.StatusCancelled) {
		t.Fatalf("expected cancelled, got %v", final["status"])
	}
}

func TestPresentationEndpoints(t *testing.T) {
	env := newTestEnv(func(call int) (*upstream.RawStatus, error) {
		return &upstream.RawStatus{
			Status: "completed",
			Output: `[{"id":"s1","title":"Intro","content":"hello","layout":"title_slide"}]`,
		}, nil
	})

	if rr := env.do(t, http.MethodGet, "/api/presentations/pres-missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/presentations", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without user_id, got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/api/generations",
		`{"user_id":"alice","prompt":"solar deck","task_type":"slides"}`)
	_, data := decodeResponse(t, rr)
	generationID, _ := data["generation_id"].(string)
	presentationID, _ := data["presentation_id"].(string)
	if presentationID == "" {
		t.Fatalf("expected generated presentation_id, got %s", rr.Body.String())
	}

	env.waitTerminal(t, generationID)

	rr = env.do(t, http.MethodGet, "/api/presentations/"+presentationID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	_, data = decodeResponse(t, rr)
	slides, _ := data["slides"].([]any)
	if len(slides) != 1 {
		t.Fatalf("expected 1 slide, got %v", data["slides"])
	}

	rr = env.do(t, http.MethodGet, "/api/presentations?user_id=alice", "")
	_, data = decodeResponse(t, rr)
	if total, _ := data["total"].(float64); total != 1 {
		t.Fatalf("expected 1 presentation for alice, got %v", data["total"])
	}
}

func TestSSEHandlerRequiresUserID(t *testing.T) {
	env := newTestEnv(nil)

	rr := env.do(t, http.MethodGet, "/api/events/sse", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebSocketStreamDeliversUserEvents(t *testing.T) {
	env := newTestEnv(nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?user_id=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	waitForClients(t, env.hub, "alice", 1)

	env.hub.OnEvent(event.NewThinkingStepEvent("alice", event.ThinkingStep{
		ID: "s1", Title: "Research", Status: event.StepStatusRunning,
	}, time.Now()))
	env.hub.OnEvent(event.NewThinkingStepEvent("bob", event.ThinkingStep{
		ID: "s2", Title: "NotForAlice", Status: event.StepStatusRunning,
	}, time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	ev, err := event.Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	step, ok := ev.(*event.ThinkingStepEvent)
	if !ok {
		t.Fatalf("expected thinking step event, got %T", ev)
	}
	if step.GetUserID() != "alice" || step.Step.ID != "s1" {
		t.Fatalf("unexpected event for user %s with step %s", step.GetUserID(), step.Step.ID)
	}

	// Nothing else arrives: bob's event must not leak into alice's stream.
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("received an event addressed to another user")
	}
}

func waitForClients(t *testing.T, hub *transport.Hub, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(userID) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d connected clients", userID, want)
}
