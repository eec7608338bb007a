package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"deckwork/internal/artifacts"
	"deckwork/internal/logging"
	"deckwork/internal/orchestrator"
	"deckwork/internal/transport"
)

// APIResponse is the envelope for every REST reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIHandler serves the generation and presentation REST endpoints.
type APIHandler struct {
	service   *orchestrator.Service
	artifacts artifacts.Store
	hub       *transport.Hub
	logger    logging.Logger
	startTime time.Time
}

// NewAPIHandler creates the REST handler set.
func NewAPIHandler(service *orchestrator.Service, artifactStore artifacts.Store, hub *transport.Hub, startTime time.Time) *APIHandler {
	return &APIHandler{
		service:   service,
		artifacts: artifactStore,
		hub:       hub,
		logger:    logging.NewComponentLogger("APIHandler"),
		startTime: startTime,
	}
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: false, Error: message})
}

// Health reports liveness plus a few gauges worth seeing at a glance.
func (h *APIHandler) Health(c *gin.Context) {
	data := gin.H{
		"status":             "ok",
		"uptime":             time.Since(h.startTime).String(),
		"active_generations": h.service.ActiveCount(),
	}
	if h.hub != nil {
		data["connected_clients"] = h.hub.GetMetrics().ActiveConnections
	}
	respondOK(c, http.StatusOK, data)
}

// CreateGeneration starts a new generation run. The response carries the
// freshly created record; progress arrives over the event stream.
func (h *APIHandler) CreateGeneration(c *gin.Context) {
	var req orchestrator.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Prompt) == "" || req.TaskType == "" {
		respondError(c, http.StatusBadRequest, "user_id, prompt and task_type are required")
		return
	}

	gen, err := h.service.StartGeneration(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to start generation for user %s: %v", req.UserID, err)
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	respondOK(c, http.StatusAccepted, gen)
}

// GetGeneration returns one generation record.
func (h *APIHandler) GetGeneration(c *gin.Context) {
	gen, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, http.StatusOK, gen)
}

// ListGenerations returns records, either a user's or a paginated slice of
// all of them.
func (h *APIHandler) ListGenerations(c *gin.Context) {
	ctx := c.Request.Context()

	if userID := c.Query("user_id"); userID != "" {
		gens, err := h.service.ListByUser(ctx, userID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		respondOK(c, http.StatusOK, gin.H{"generations": gens, "total": len(gens)})
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	gens, total, err := h.service.List(ctx, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"generations": gens,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// CancelGeneration requests cooperative cancellation of a running generation.
// The terminal event arrives over the stream once the loop has stopped.
func (h *APIHandler) CancelGeneration(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		respondOK(c, http.StatusAccepted, gin.H{"status": "cancelling"})
	case errors.Is(err, orchestrator.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrAlreadyFinished):
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

// GetPresentation returns a stored presentation artifact.
func (h *APIHandler) GetPresentation(c *gin.Context) {
	presentation, err := h.artifacts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, http.StatusOK, presentation)
}

// ListPresentations returns a user's stored presentations.
func (h *APIHandler) ListPresentations(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	presentations, err := h.artifacts.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, http.StatusOK, gin.H{"presentations": presentations, "total": len(presentations)})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
