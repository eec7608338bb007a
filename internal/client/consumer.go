package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"deckwork/internal/artifacts"
	"deckwork/internal/client/state"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/event"
	"deckwork/internal/logging"
)

// Fetcher loads the durable artifact referenced by a completed event.
type Fetcher interface {
	Presentation(ctx context.Context, id string) (*artifacts.Presentation, error)
}

// ConsumerConfig configures the event stream consumer.
type ConsumerConfig struct {
	ServerURL string // http(s) base address of the server
	UserID    string
	Replay    bool // ask the server to replay buffered history on connect

	// Reconnect paces redials after a dropped connection.
	Reconnect deckerrors.RetryConfig
}

// Consumer subscribes to one user's event stream and applies every event to
// the state store, one at a time. Re-deliveries are harmless: the store's
// upserts are idempotent, which is also what makes history replay after a
// reconnect safe.
type Consumer struct {
	config  ConsumerConfig
	store   *state.Store
	fetcher Fetcher
	logger  logging.Logger
	dialer  *websocket.Dialer
}

// NewConsumer creates a consumer feeding store. fetcher may be nil, in which
// case completed generations are marked without loading the final artifact.
func NewConsumer(config ConsumerConfig, store *state.Store, fetcher Fetcher, logger logging.Logger) *Consumer {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	if config.Reconnect.MaxAttempts == 0 {
		config.Reconnect = deckerrors.DefaultRetryConfig()
	}
	return &Consumer{
		config:  config,
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Run connects to the stream and applies events until ctx is cancelled,
// redialing with backoff when the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	if c.config.UserID == "" {
		return fmt.Errorf("consumer requires a user id")
	}
	streamURL, err := c.streamURL()
	if err != nil {
		return err
	}

	failures := 0
	for {
		connected, err := c.consume(ctx, streamURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		delay := deckerrors.Backoff(failures, c.config.Reconnect)
		failures++
		c.logger.Warn("event stream dropped: %v, reconnecting in %s", err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume runs one connection until it breaks. connected reports whether the
// dial itself succeeded, so the caller can reset its backoff.
func (c *Consumer) consume(ctx context.Context, streamURL string) (connected bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", streamURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	c.logger.Info("event stream connected for user %s", c.config.UserID)

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.handle(ctx, frame)
	}
}

func (c *Consumer) handle(ctx context.Context, frame []byte) {
	ev, err := event.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping undecodable event: %v", err)
		return
	}

	// The artifact is loaded before the completed status becomes visible, so
	// an observer reacting to completion always finds the presentation.
	if completion, ok := ev.(*event.GenerationCompletedEvent); ok {
		c.finish(ctx, completion)
		return
	}

	if err := c.store.ApplyEvent(ev); err != nil {
		c.logger.Warn("dropping %s event: %v", ev.EventType(), err)
	}
}

func (c *Consumer) finish(ctx context.Context, completion *event.GenerationCompletedEvent) {
	warning := ""
	if c.fetcher != nil && completion.PresentationID != "" {
		pres, err := c.fetcher.Presentation(ctx, completion.PresentationID)
		if err != nil {
			warning = fmt.Sprintf("final presentation unavailable: %v", err)
			c.logger.Warn("fetch presentation %s: %v", completion.PresentationID, err)
		} else {
			c.store.Apply(state.PresentationLoaded{Presentation: pres, Timestamp: completion.Timestamp()})
		}
	}

	c.store.Apply(state.CompletionSet{
		PresentationID: completion.PresentationID,
		SlideCount:     completion.SlideCount,
		FetchWarning:   warning,
		Timestamp:      completion.Timestamp(),
	})
}

func (c *Consumer) streamURL() (string, error) {
	parsed, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = "/api/events/ws"

	query := parsed.Query()
	query.Set("user_id", c.config.UserID)
	if c.config.Replay {
		query.Set("replay", "1")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
