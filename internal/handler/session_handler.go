package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/pkg/response"
)

type sessionService interface {
	Open(ctx context.Context, lectureID string, req models.OpenSessionRequest, actor models.Actor) (*models.ActiveSessionView, error)
	Extend(ctx context.Context, sessionID string, req models.ExtendSessionRequest, actor models.Actor) (*models.AttendanceSession, error)
	Close(ctx context.Context, sessionID string, actor models.Actor) (*models.AttendanceSession, error)
	Active(ctx context.Context, lectureID string, actor models.Actor) (*models.ActiveSessionView, error)
	List(ctx context.Context, lectureID string, actor models.Actor) ([]models.AttendanceSession, error)
}

// SessionHandler exposes attendance session endpoints for teachers.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Open godoc
// @Summary Open an attendance session
// @Description Starts a QR attendance window for the lecture. The body is optional; the configured default duration applies when omitted.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body models.OpenSessionRequest false "Session duration"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures/{id}/sessions [post]
func (h *SessionHandler) Open(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.OpenSessionRequest
	if err := bindOptionalJSON(c, &req, "invalid session payload"); err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Open(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List sessions of a lecture
// @Tags Sessions
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sessions, err := h.service.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.AttendanceSession{}
	}
	response.JSON(c, http.StatusOK, sessions)
}

// Active godoc
// @Summary Get the active session with its QR payload
// @Tags Sessions
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lectures/{id}/sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Active(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Extend godoc
// @Summary Extend an active session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body models.ExtendSessionRequest true "New duration from now"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [patch]
func (h *SessionHandler) Extend(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.ExtendSessionRequest
	if err := bindJSON(c, &req, "invalid session payload"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Extend(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Close godoc
// @Summary Close a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/close [post]
func (h *SessionHandler) Close(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Close(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}
