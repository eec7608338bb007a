package transport

import (
	"testing"
	"time"

	"deckwork/internal/event"
)

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(nil)

	userID := "user-1"
	ch := make(chan event.Event, 10)

	hub.RegisterClient(userID, ch)

	if count := hub.ClientCount(userID); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	hub.UnregisterClient(userID, ch)

	if count := hub.ClientCount(userID); count != 0 {
		t.Errorf("Expected 0 clients after unregister, got %d", count)
	}
}

func TestHub_DeliverToAllUserClients(t *testing.T) {
	hub := NewHub(nil)

	userID := "user-1"
	ch1 := make(chan event.Event, 10)
	ch2 := make(chan event.Event, 10)

	hub.RegisterClient(userID, ch1)
	hub.RegisterClient(userID, ch2)

	hub.OnEvent(event.NewGenerationProgressEvent(userID, 30, "outline", time.Now()))

	for i, ch := range []chan event.Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.EventType() != event.TypeGenerationProgress {
				t.Errorf("Client %d received wrong event type: %s", i+1, received.EventType())
			}
		default:
			t.Errorf("Client %d did not receive event", i+1)
		}
	}

	hub.UnregisterClient(userID, ch1)
	hub.UnregisterClient(userID, ch2)
}

func TestHub_UserIsolation(t *testing.T) {
	hub := NewHub(nil)

	chA := make(chan event.Event, 10)
	chB := make(chan event.Event, 10)

	hub.RegisterClient("user-a", chA)
	hub.RegisterClient("user-b", chB)

	hub.OnEvent(event.NewThinkingStepEvent("user-a", event.ThinkingStep{ID: "s1", Status: event.StepStatusRunning}, time.Now()))

	if len(chA) == 0 {
		t.Error("User A client should have received event")
	}
	if len(chB) != 0 {
		t.Error("User B client should NOT have received event (isolation)")
	}

	hub.UnregisterClient("user-a", chA)
	hub.UnregisterClient("user-b", chB)
}

func TestHub_UnaddressedEventsDropped(t *testing.T) {
	hub := NewHub(nil)

	ch := make(chan event.Event, 10)
	hub.RegisterClient("user-1", ch)

	hub.OnEvent(event.NewGenerationProgressEvent("", 10, "", time.Now()))

	if len(ch) != 0 {
		t.Error("Unaddressed event must not reach any client")
	}

	hub.UnregisterClient("user-1", ch)
}

func TestHub_BufferFullDropsProgressEvents(t *testing.T) {
	hub := NewHub(nil)

	userID := "user-1"
	ch := make(chan event.Event, 2)

	hub.RegisterClient(userID, ch)

	for i := 0; i < 5; i++ {
		hub.OnEvent(event.NewGenerationProgressEvent(userID, i*10, "writing", time.Now()))
	}

	if eventCount := len(ch); eventCount > 2 {
		t.Errorf("Expected at most 2 events in buffer, got %d", eventCount)
	}

	metrics := hub.GetMetrics()
	if metrics.DroppedEvents != 3 {
		t.Errorf("Expected 3 dropped events, got %d", metrics.DroppedEvents)
	}

	hub.UnregisterClient(userID, ch)
}

func TestHub_TerminalEventEvictsOldest(t *testing.T) {
	hub := NewHub(nil)

	userID := "user-1"
	ch := make(chan event.Event, 2)

	hub.RegisterClient(userID, ch)

	hub.OnEvent(event.NewGenerationProgressEvent(userID, 10, "", time.Now()))
	hub.OnEvent(event.NewGenerationProgressEvent(userID, 20, "", time.Now()))

	// Buffer is full; the terminal event must still get through.
	hub.OnEvent(event.NewGenerationErrorEvent(userID, event.ReasonTimeout, "polling ceiling reached", time.Now()))

	var sawTerminal bool
	for len(ch) > 0 {
		ev := <-ch
		if ev.EventType() == event.TypeGenerationError {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Error("Terminal event was not delivered despite a full buffer")
	}

	hub.UnregisterClient(userID, ch)
}

func TestHub_HistoryReplay(t *testing.T) {
	hub := NewHub(nil)

	userID := "user-1"
	hub.OnEvent(event.NewThinkingStepEvent(userID, event.ThinkingStep{ID: "s1", Status: event.StepStatusRunning}, time.Now()))
	hub.OnEvent(event.NewGenerationProgressEvent(userID, 50, "", time.Now()))

	history := hub.History(userID)
	if len(history) != 2 {
		t.Fatalf("Expected 2 events in history, got %d", len(history))
	}
	if history[0].EventType() != event.TypeThinkingStep {
		t.Errorf("History out of order: first event is %s", history[0].EventType())
	}

	hub.ClearHistory(userID)
	if history := hub.History(userID); history != nil {
		t.Errorf("Expected empty history after clear, got %d events", len(history))
	}
}
