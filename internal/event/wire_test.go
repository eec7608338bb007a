package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWireRoundTripToolEvent(t *testing.T) {
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	tool := ToolAction{
		ID:          "tc-1",
		Type:        "search",
		Status:      ToolStatusCompleted,
		Input:       "golang slide layouts",
		Result:      "12 results",
		StartedAt:   &started,
		CompletedAt: &completed,
	}

	data, err := Encode(NewToolCompletedEvent("user-7", tool, completed))
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	ev, ok := decoded.(*ToolCompletedEvent)
	require.True(t, ok)
	require.Equal(t, "user-7", ev.GetUserID())
	require.Equal(t, TypeToolCompleted, ev.EventType())
	require.Equal(t, "tc-1", ev.Tool.ID)
	require.Equal(t, ToolStatusCompleted, ev.Tool.Status)
	require.Equal(t, 3*time.Second, ev.Tool.Duration())
}

func TestWireRoundTripTopics(t *testing.T) {
	topics := []string{"Intro", "History", "Outlook"}
	data, err := Encode(NewTopicsGeneratedEvent("user-1", topics, time.Now()))
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	ev, ok := decoded.(*TopicsGeneratedEvent)
	require.True(t, ok)
	require.Equal(t, topics, ev.Topics)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"mystery:event","user_id":"u","payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeRejectsMalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`{"type":"thinking:step","payload":"not-an-object"`))
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	now := time.Now()
	require.True(t, IsTerminal(NewGenerationErrorEvent("u", ReasonTimeout, "", now)))
	require.True(t, IsTerminal(NewGenerationCompletedEvent("u", "pres-1", 8, now)))
	require.True(t, IsTerminal(NewTopicsGeneratedEvent("u", nil, now)))
	require.False(t, IsTerminal(NewGenerationProgressEvent("u", 40, "writing", now)))
	require.False(t, IsTerminal(NewThinkingStepEvent("u", ThinkingStep{ID: "s1"}, now)))
}
