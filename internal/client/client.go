// Package client connects a terminal session to a running deckwork server:
// REST calls for control operations plus a websocket consumer that feeds the
// reconciled state store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"deckwork/internal/artifacts"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/logging"
	"deckwork/internal/orchestrator"
)

const defaultHTTPTimeout = 15 * time.Second

// Client is a thin REST client for the deckwork HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
	retry   deckerrors.RetryConfig
}

// Option adjusts client construction.
type Option func(*Client)

// WithRetryConfig overrides the retry policy for artifact reads.
func WithRetryConfig(config deckerrors.RetryConfig) Option {
	return func(c *Client) {
		c.retry = config
	}
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, logger logging.Logger, opts ...Option) *Client {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
		retry:   deckerrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StartGeneration submits a new generation request and returns the accepted
// record. Polling starts server-side; progress arrives on the event stream.
func (c *Client) StartGeneration(ctx context.Context, req orchestrator.StartRequest) (*orchestrator.Generation, error) {
	var gen orchestrator.Generation
	if err := c.doJSON(ctx, http.MethodPost, "/api/generations", req, &gen); err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}
	return &gen, nil
}

// Generation fetches one generation record.
func (c *Client) Generation(ctx context.Context, id string) (*orchestrator.Generation, error) {
	var gen orchestrator.Generation
	if err := c.doJSON(ctx, http.MethodGet, "/api/generations/"+id, nil, &gen); err != nil {
		return nil, fmt.Errorf("get generation %s: %w", id, err)
	}
	return &gen, nil
}

// CancelGeneration asks the server to stop an in-flight generation.
func (c *Client) CancelGeneration(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/generations/"+id, nil, nil); err != nil {
		return fmt.Errorf("cancel generation %s: %w", id, err)
	}
	return nil
}

// Presentation fetches the durable artifact for a finished generation. The
// read retries briefly: right after the completed event a load balancer or
// replica can still answer before the write is visible.
func (c *Client) Presentation(ctx context.Context, id string) (*artifacts.Presentation, error) {
	fetch := func(ctx context.Context) (*artifacts.Presentation, error) {
		var pres artifacts.Presentation
		err := c.doJSON(ctx, http.MethodGet, "/api/presentations/"+id, nil, &pres)
		if err != nil {
			if status := statusCodeOf(err); status == http.StatusNotFound {
				return nil, deckerrors.NewTransientError(err, "presentation not visible yet")
			}
			return nil, err
		}
		return &pres, nil
	}

	pres, err := deckerrors.RetryWithResultAndLog(ctx, c.retry, fetch, c.logger)
	if err != nil {
		if statusCodeOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("presentation %s: %w", id, artifacts.ErrNotFound)
		}
		return nil, fmt.Errorf("get presentation %s: %w", id, err)
	}
	return pres, nil
}

// apiEnvelope mirrors the server's response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := envelope.Error
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return deckerrors.FromHTTPStatus(resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !envelope.Success {
		return fmt.Errorf("server rejected request: %s", envelope.Error)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func statusCodeOf(err error) int {
	var transient *deckerrors.TransientError
	if errors.As(err, &transient) && transient.StatusCode > 0 {
		return transient.StatusCode
	}
	var permanent *deckerrors.PermanentError
	if errors.As(err, &permanent) && permanent.StatusCode > 0 {
		return permanent.StatusCode
	}
	return 0
}
