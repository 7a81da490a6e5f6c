package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/pkg/response"
)

type ledgerService interface {
	SyncLecture(ctx context.Context, lectureID string, actor models.Actor) (*models.LedgerSyncResult, error)
	Status(ctx context.Context, actor models.Actor) (*models.LedgerStatus, error)
}

type statisticsService interface {
	Statistics(ctx context.Context, actor models.Actor, includeStatus bool) (*models.LedgerStatistics, error)
}

// LedgerHandler exposes ledger registration and reporting endpoints.
type LedgerHandler struct {
	ledger ledgerService
	stats  statisticsService
}

// NewLedgerHandler builds a new handler.
func NewLedgerHandler(ledger ledgerService, stats statisticsService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, stats: stats}
}

// SyncLecture godoc
// @Summary Register a lecture on the ledger
// @Tags Ledger
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /lectures/{id}/ledger [post]
func (h *LedgerHandler) SyncLecture(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.ledger.SyncLecture(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Status godoc
// @Summary Check ledger connectivity
// @Tags Ledger
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ledger/status [get]
func (h *LedgerHandler) Status(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.ledger.Status(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Statistics godoc
// @Summary Ledger verification statistics
// @Tags Ledger
// @Produce json
// @Param include_status query bool false "Probe the ledger gateway as well"
// @Success 200 {object} response.Envelope
// @Router /statistics/ledger [get]
func (h *LedgerHandler) Statistics(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	includeStatus, _ := strconv.ParseBool(c.Query("include_status"))
	stats, err := h.stats.Statistics(c.Request.Context(), actor, includeStatus)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}
