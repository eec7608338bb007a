package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType is returned by Decode for event types outside the
// closed set. Consumers drop such events rather than failing the stream.
var ErrUnknownEventType = errors.New("unknown event type")

// envelope is the JSON frame shared by the websocket and SSE transports.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type topicsPayload struct {
	Topics []string `json:"topics"`
}

type progressPayload struct {
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`
}

type completedPayload struct {
	PresentationID string `json:"presentation_id,omitempty"`
	SlideCount     int    `json:"slide_count"`
}

type errorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Encode serializes an event into the wire envelope.
func Encode(e Event) ([]byte, error) {
	var payload any

	switch ev := e.(type) {
	case *ThinkingStepEvent:
		payload = ev.Step
	case *ToolStartedEvent:
		payload = ev.Tool
	case *ToolCompletedEvent:
		payload = ev.Tool
	case *ToolFailedEvent:
		payload = ev.Tool
	case *SlidePreviewEvent:
		payload = ev.Slide
	case *TopicsGeneratedEvent:
		payload = topicsPayload{Topics: ev.Topics}
	case *GenerationProgressEvent:
		payload = progressPayload{Progress: ev.Progress, Stage: ev.Stage}
	case *GenerationCompletedEvent:
		payload = completedPayload{PresentationID: ev.PresentationID, SlideCount: ev.SlideCount}
	case *GenerationErrorEvent:
		payload = errorPayload{Reason: ev.Reason, Message: ev.Message}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.EventType(), err)
	}

	return json.Marshal(envelope{
		Type:      e.EventType(),
		Timestamp: e.Timestamp(),
		UserID:    e.GetUserID(),
		Payload:   raw,
	})
}

// Decode parses a wire envelope back into a typed event.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeThinkingStep:
		var step ThinkingStep
		if err := json.Unmarshal(env.Payload, &step); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewThinkingStepEvent(env.UserID, step, env.Timestamp), nil

	case TypeToolStarted, TypeToolCompleted, TypeToolFailed:
		var tool ToolAction
		if err := json.Unmarshal(env.Payload, &tool); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		switch env.Type {
		case TypeToolStarted:
			return NewToolStartedEvent(env.UserID, tool, env.Timestamp), nil
		case TypeToolCompleted:
			return NewToolCompletedEvent(env.UserID, tool, env.Timestamp), nil
		default:
			return NewToolFailedEvent(env.UserID, tool, env.Timestamp), nil
		}

	case TypeSlidePreview:
		var slide SlidePreview
		if err := json.Unmarshal(env.Payload, &slide); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewSlidePreviewEvent(env.UserID, slide, env.Timestamp), nil

	case TypeTopicsGenerated:
		var p topicsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewTopicsGeneratedEvent(env.UserID, p.Topics, env.Timestamp), nil

	case TypeGenerationProgress:
		var p progressPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewGenerationProgressEvent(env.UserID, p.Progress, p.Stage, env.Timestamp), nil

	case TypeGenerationCompleted:
		var p completedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewGenerationCompletedEvent(env.UserID, p.PresentationID, p.SlideCount, env.Timestamp), nil

	case TypeGenerationError:
		var p errorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return NewGenerationErrorEvent(env.UserID, p.Reason, p.Message, env.Timestamp), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}
