package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/pkg/response"
)

type redemptionService interface {
	RedeemByToken(ctx context.Context, req models.RedeemRequest, actor models.Actor) (*models.RedemptionResult, error)
	RedeemManually(ctx context.Context, lectureID string, req models.ManualAttendanceRequest, actor models.Actor) (*models.RedemptionResult, error)
	SyncManual(ctx context.Context, lectureID string, req models.SyncManualAttendanceRequest, actor models.Actor) (*models.SyncResult, error)
	ListForLecture(ctx context.Context, lectureID string, actor models.Actor) ([]models.AttendanceRecordDetail, error)
	ListMine(ctx context.Context, actor models.Actor) ([]models.AttendanceRecordDetail, error)
}

// AttendanceHandler exposes QR redemption and manual attendance endpoints.
type AttendanceHandler struct {
	service redemptionService
}

// NewAttendanceHandler builds a new handler.
func NewAttendanceHandler(service redemptionService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Redeem godoc
// @Summary Redeem a scanned QR code
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.RedeemRequest true "Raw QR payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /attendance/redeem [post]
func (h *AttendanceHandler) Redeem(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.RedeemRequest
	if err := bindJSON(c, &req, "invalid redemption payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.RedeemByToken(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Mine godoc
// @Summary List the caller's attendance
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /attendance/me [get]
func (h *AttendanceHandler) Mine(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.service.ListMine(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, nonNilRecords(records))
}

// ListForLecture godoc
// @Summary List attendance of a lecture
// @Tags Attendance
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/attendance [get]
func (h *AttendanceHandler) ListForLecture(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.service.ListForLecture(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, nonNilRecords(records))
}

// Manual godoc
// @Summary Record a student manually
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body models.ManualAttendanceRequest true "Student"
// @Success 201 {object} response.Envelope
// @Router /lectures/{id}/attendance/manual [post]
func (h *AttendanceHandler) Manual(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.ManualAttendanceRequest
	if err := bindJSON(c, &req, "invalid attendance payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.RedeemManually(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Sync godoc
// @Summary Replace the recorded students of a lecture
// @Description Students missing from the list lose their record, including QR redemptions. Nothing changes if any listed student is not enrolled.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body models.SyncManualAttendanceRequest true "Students to keep"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/attendance [put]
func (h *AttendanceHandler) Sync(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.SyncManualAttendanceRequest
	if err := bindJSON(c, &req, "invalid attendance payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.SyncManual(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

func nonNilRecords(records []models.AttendanceRecordDetail) []models.AttendanceRecordDetail {
	if records == nil {
		return []models.AttendanceRecordDetail{}
	}
	return records
}
