package handler

import (
	"net/http"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/response"
	"github.com/eduvox/viva-gateway/internal/session"
	"github.com/eduvox/viva-gateway/internal/validator"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VivaHandler exposes the session lifecycle over REST. Real-time traffic
// (device events, AI responses) runs over the relay socket instead.
type VivaHandler struct {
	registry *session.Registry
	client   *backend.Client
	log      zerolog.Logger
}

// NewVivaHandler creates a new VivaHandler.
func NewVivaHandler(registry *session.Registry, client *backend.Client, log zerolog.Logger) *VivaHandler {
	return &VivaHandler{
		registry: registry,
		client:   client,
		log:      log.With().Str("component", "viva_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Reports gateway liveness and passes the examiner backend's health through
// so the UI needs a single probe.
func (h *VivaHandler) Health(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if health, err := h.client.Health(c.Request.Context()); err != nil {
		out["backend"] = gin.H{"status": "unreachable"}
	} else {
		out["backend"] = health
	}
	response.Success(c, http.StatusOK, out)
}

// CreateSession godoc
// POST /api/v1/viva/sessions
func (h *VivaHandler) CreateSession(c *gin.Context) {
	var req viva.SessionConfig
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	mgr, err := h.registry.Create(c.Request.Context(), req)
	if err != nil {
		failFromErr(c, err)
		return
	}
	response.Success(c, http.StatusCreated, mgr.Snapshot())
}

// GetSession godoc
// GET /api/v1/viva/sessions/:id
func (h *VivaHandler) GetSession(c *gin.Context) {
	mgr, ok := h.lookup(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, mgr.Snapshot())
}

// SubmitAnswer godoc
// POST /api/v1/viva/sessions/:id/answer
// Accepts a typed answer; the result arrives as relay events. The 202 only
// acknowledges that the submission was accepted by the turn machine.
func (h *VivaHandler) SubmitAnswer(c *gin.Context) {
	mgr, ok := h.lookup(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := mgr.SubmitText(req.Text); err != nil {
		failFromErr(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "processing"})
}

// GetProgress godoc
// GET /api/v1/viva/sessions/:id/progress
// Pull-based reconciliation against the backend's authoritative state.
func (h *VivaHandler) GetProgress(c *gin.Context) {
	mgr, ok := h.lookup(c)
	if !ok {
		return
	}

	snap, err := mgr.FetchProgress(c.Request.Context())
	if err != nil {
		failFromErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// DeleteSession godoc
// DELETE /api/v1/viva/sessions/:id
// Explicit reset: teardown, one best-effort backend cleanup, removal.
func (h *VivaHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	h.registry.Remove(id)
	response.Success(c, http.StatusOK, gin.H{"status": "reset"})
}

// Beacon godoc
// POST /api/v1/viva/sessions/:id/beacon
// Unload-time cleanup: the browser cannot await a response, so this returns
// immediately and tears the session down in the background.
func (h *VivaHandler) Beacon(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	go h.registry.Remove(id)
	c.Status(http.StatusNoContent)
}

// lookup resolves the :id param to a live session manager, writing the
// error response itself on failure.
func (h *VivaHandler) lookup(c *gin.Context) (*session.Manager, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}
	mgr := h.registry.Get(id)
	if mgr == nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}
	return mgr, true
}
