package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
)

// Client is the boundary to the opaque task source.
type Client interface {
	// CreateTask submits a generation request and returns the external task id.
	CreateTask(ctx context.Context, req CreateTaskRequest) (string, error)

	// TaskStatus fetches the current raw status of a task.
	TaskStatus(ctx context.Context, taskID string) (*RawStatus, error)
}

// CreateTaskRequest describes one delegated generation.
type CreateTaskRequest struct {
	Prompt         string         `json:"prompt"`
	TaskType       event.TaskType `json:"task_type"`
	UserID         string         `json:"user_id,omitempty"`
	PresentationID string         `json:"presentation_id,omitempty"`
}

// Config holds task source connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // per-request, default 30s
}

// HTTPClient talks to the task source over its REST API.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
}

// NewHTTPClient creates a task source client.
func NewHTTPClient(config Config) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// CreateTask submits a generation request and returns the external task id.
func (c *HTTPClient) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	// The service has shipped both field names.
	var created struct {
		TaskID FlexString `json:"task_id"`
		ID     FlexString `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	taskID := string(created.TaskID)
	if taskID == "" {
		taskID = string(created.ID)
	}
	if taskID == "" {
		return "", deckerrors.NewPermanentError(nil, "task source returned no task id")
	}
	return taskID, nil
}

// TaskStatus fetches the current raw status of a task.
func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (*RawStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, fmt.Errorf("task status %s: %w", taskID, err)
	}

	var status RawStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// checkStatus converts non-2xx responses into typed errors so the retry
// layer classifies them without string matching.
func (c *HTTPClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return deckerrors.FromHTTPStatus(resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
}
