package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dangoth/posttrade-poc-sub001/internal/outbox"
	"github.com/dangoth/posttrade-poc-sub001/internal/tracing"
)

// AdminHandler exposes the dead-letter inspection and reprocess endpoints
type AdminHandler struct {
	deadLetters *outbox.DeadLetterService
	tracer      tracing.Tracer
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(deadLetters *outbox.DeadLetterService, tracer tracing.Tracer) *AdminHandler {
	return &AdminHandler{
		deadLetters: deadLetters,
		tracer:      tracer,
	}
}

// HandleListDeadLetters handles GET /admin/outbox/dead-letters
func (h *AdminHandler) HandleListDeadLetters(c *gin.Context) {
	txn := h.tracer.StartTransaction("admin-list-dead-letters")
	defer h.tracer.EndTransaction(txn)

	limit := parseLimit(c, 100)
	records, err := h.deadLetters.List(c.Request.Context(), limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": records,
		"count":        len(records),
	})
}

// HandleCountDeadLetters handles GET /admin/outbox/dead-letters/count
func (h *AdminHandler) HandleCountDeadLetters(c *gin.Context) {
	txn := h.tracer.StartTransaction("admin-count-dead-letters")
	defer h.tracer.EndTransaction(txn)

	count, err := h.deadLetters.Count(c.Request.Context())
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// HandleReprocessDeadLetter handles POST /admin/outbox/dead-letters/:eventId/reprocess
func (h *AdminHandler) HandleReprocessDeadLetter(c *gin.Context) {
	txn := h.tracer.StartTransaction("admin-reprocess-dead-letter")
	defer h.tracer.EndTransaction(txn)

	eventID := c.Param("eventId")
	if err := h.deadLetters.Reprocess(c.Request.Context(), eventID); err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("event_id", eventID).Msg("Dead-lettered event queued for reprocessing")
	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "reprocessed": true})
}

// HandleReprocessAllDeadLetters handles POST /admin/outbox/dead-letters/reprocess
func (h *AdminHandler) HandleReprocessAllDeadLetters(c *gin.Context) {
	txn := h.tracer.StartTransaction("admin-reprocess-all-dead-letters")
	defer h.tracer.EndTransaction(txn)

	limit := parseLimit(c, 1000)
	result, err := h.deadLetters.ReprocessAll(c.Request.Context(), limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleOutboxStatistics handles GET /admin/outbox/statistics
func (h *AdminHandler) HandleOutboxStatistics(c *gin.Context) {
	txn := h.tracer.StartTransaction("admin-outbox-statistics")
	defer h.tracer.EndTransaction(txn)

	stats, err := h.deadLetters.Statistics(c.Request.Context())
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// RegisterRoutes registers the handler's routes
func (h *AdminHandler) RegisterRoutes(router *gin.Engine) {
	admin := router.Group("/admin/outbox")
	admin.GET("/dead-letters", h.HandleListDeadLetters)
	admin.GET("/dead-letters/count", h.HandleCountDeadLetters)
	admin.POST("/dead-letters/reprocess", h.HandleReprocessAllDeadLetters)
	admin.POST("/dead-letters/:eventId/reprocess", h.HandleReprocessDeadLetter)
	admin.GET("/statistics", h.HandleOutboxStatistics)
}
