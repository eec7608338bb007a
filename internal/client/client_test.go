package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deckwork/internal/artifacts"
	deckerrors "deckwork/internal/errors"
	"deckwork/internal/orchestrator"
)

func fastRetry() deckerrors.RetryConfig {
	return deckerrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0.1}
}

func envelope(t *testing.T, data any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"success": true, "data": data})
	require.NoError(t, err)
	return body
}

func TestStartGenerationDecodesRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generations", r.URL.Path)

		var req orchestrator.StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.UserID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write(envelope(t, orchestrator.Generation{
			ID:     "gen-1",
			UserID: req.UserID,
			Status: orchestrator.StatusPending,
		}))
	}))
	defer ts.Close()

	c := New(ts.URL, nil, WithRetryConfig(fastRetry()))
	gen, err := c.StartGeneration(context.Background(), orchestrator.StartRequest{
		UserID: "alice", Prompt: "solar", TaskType: "topics",
	})
	require.NoError(t, err)
	require.Equal(t, "gen-1", gen.ID)
	require.Equal(t, orchestrator.StatusPending, gen.Status)
}

func TestErrorEnvelopeSurfacesDetail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "user_id is required"})
	}))
	defer ts.Close()

	c := New(ts.URL, nil, WithRetryConfig(fastRetry()))
	_, err := c.StartGeneration(context.Background(), orchestrator.StartRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "user_id is required")
	require.True(t, deckerrors.IsPermanent(err))
}

func TestPresentationRetriesUntilVisible(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "presentation not found"})
			return
		}
		w.Write(envelope(t, artifacts.Presentation{
			ID:     "pres-1",
			UserID: "alice",
			Title:  "Solar 101",
			Slides: []artifacts.Slide{{ID: "s1", Title: "Intro"}},
		}))
	}))
	defer ts.Close()

	c := New(ts.URL, nil, WithRetryConfig(fastRetry()))
	pres, err := c.Presentation(context.Background(), "pres-1")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "Solar 101", pres.Title)
	require.Len(t, pres.Slides, 1)
}

func TestPresentationMissingMapsToNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "presentation not found"})
	}))
	defer ts.Close()

	c := New(ts.URL, nil, WithRetryConfig(fastRetry()))
	_, err := c.Presentation(context.Background(), "pres-ghost")
	require.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestCancelGenerationAcceptsAccepted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write(envelope(t, map[string]string{"status": "cancelling"}))
	}))
	defer ts.Close()

	c := New(ts.URL, nil, WithRetryConfig(fastRetry()))
	require.NoError(t, c.CancelGeneration(context.Background(), "gen-1"))
}
