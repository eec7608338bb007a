package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskState is the normalized coarse state of an upstream task.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
	StateCancelled TaskState = "cancelled"
	StateUnknown   TaskState = "unknown"
)

// RawStatus is the task source's status payload. The service is opaque and
// versionless, so every field is optional and tolerates shape drift; nothing
// here is trusted until it survives translation into a typed event.
type RawStatus struct {
	Status        string        `json:"status"`
	ThinkingSteps []RawStep     `json:"thinking_steps,omitempty"`
	ToolCalls     []RawToolCall `json:"tool_calls,omitempty"`
	Progress      *FlexInt      `json:"progress,omitempty"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// RawStep is one reasoning step as the task source reports it.
type RawStep struct {
	ID          FlexString `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
	StartedAt   *FlexTime  `json:"started_at,omitempty"`
	CompletedAt *FlexTime  `json:"completed_at,omitempty"`
}

// RawToolCall is one tool invocation as the task source reports it.
type RawToolCall struct {
	ID          FlexString `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Input       string     `json:"input,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *FlexTime  `json:"started_at,omitempty"`
	CompletedAt *FlexTime  `json:"completed_at,omitempty"`
}

// State normalizes the free-text status field. Unrecognized values map to
// StateUnknown; the poller keeps polling on those rather than aborting.
func (s *RawStatus) State() TaskState {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "pending", "queued", "created", "accepted":
		return StatePending
	case "running", "processing", "in_progress", "started":
		return StateRunning
	case "completed", "succeeded", "success", "done":
		return StateCompleted
	case "failed", "error", "errored":
		return StateFailed
	case "cancelled", "canceled", "aborted":
		return StateCancelled
	}
	return StateUnknown
}

// FlexString decodes a JSON string or number into a string. The task source
// has been observed switching step ids between numeric and string forms.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*s = FlexString(num.String())
	return nil
}

// FlexInt decodes a JSON number or numeric string into an int.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return fmt.Errorf("parse numeric string %q: %w", str, err)
		}
		*n = FlexInt(parsed)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = FlexInt(f)
	return nil
}

// Clamped returns the value clamped into [0, 100] for progress fields.
func (n *FlexInt) Clamped() int {
	if n == nil {
		return 0
	}
	v := int(*n)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FlexTime decodes RFC3339 strings, a handful of common timestamp layouts,
// and unix second or millisecond numbers. Unparseable values decode to the
// zero time instead of failing the whole status payload.
type FlexTime struct {
	time.Time
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		for _, layout := range flexTimeLayouts {
			if parsed, err := time.Parse(layout, str); err == nil {
				t.Time = parsed
				return nil
			}
		}
		t.Time = time.Time{}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		t.Time = time.Time{}
		return nil
	}
	// Heuristic: values beyond year 33658 in seconds are milliseconds.
	if f > 1e12 {
		t.Time = time.UnixMilli(int64(f)).UTC()
		return nil
	}
	t.Time = time.Unix(int64(f), 0).UTC()
	return nil
}

// TimePtr returns the parsed time, or nil when absent or unparseable.
func (t *FlexTime) TimePtr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	tt := t.Time
	return &tt
}
