package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Vivekb0311/sla/db"
	"github.com/Vivekb0311/sla/services"
)

type HistoryHandler struct {
	historyService    *services.SlaHistoryService
	escalationService *services.EscalationService
}

func NewHistoryHandler(historyService *services.SlaHistoryService, escalationService *services.EscalationService) *HistoryHandler {
	return &HistoryHandler{
		historyService:    historyService,
		escalationService: escalationService,
	}
}

// TriggerEvent handles POST /events. This is the single inbound entry point:
// every lifecycle change of an entity arrives here as a payload snapshot and
// is matched against the active templates.
func (h *HistoryHandler) TriggerEvent(c *gin.Context) {
	var req db.TriggerEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	matched, err := h.historyService.TriggerEntityEvent(c.Request.Context(),
		req.Payload, req.Application, req.EntityType, req.EntityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matched":   matched,
		"entity_id": req.EntityID,
	})
}

// GetHistory handles GET /histories/:id
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	id := c.Param("id")
	hist, err := h.historyService.GetHistory(c.Request.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "History not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hist)
}

// ListHistories handles GET /histories?entity_id=...
func (h *HistoryHandler) ListHistories(c *gin.Context) {
	entityID := c.Query("entity_id")
	if entityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id query parameter is required"})
		return
	}

	histories, err := h.historyService.ListHistoriesByEntity(c.Request.Context(), entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch histories", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": histories, "total": len(histories)})
}

// GetHistoryEscalations handles GET /histories/:id/escalations
func (h *HistoryHandler) GetHistoryEscalations(c *gin.Context) {
	id := c.Param("id")
	escalations, err := h.escalationService.ListByHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch escalations", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": escalations, "total": len(escalations)})
}
