package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Vivekb0311/sla/services"
)

type ReportHandler struct {
	reportService     *services.ReportService
	escalationService *services.EscalationService
}

func NewReportHandler(reportService *services.ReportService, escalationService *services.EscalationService) *ReportHandler {
	return &ReportHandler{
		reportService:     reportService,
		escalationService: escalationService,
	}
}

// GetDashboard handles GET /reports/dashboard: the one-call summary the UI
// renders on load.
func (h *ReportHandler) GetDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	today, err := h.reportService.PresentDayActivities(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch dashboard", "details": err.Error()})
		return
	}
	total, err := h.reportService.TotalHistoryCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch dashboard", "details": err.Error()})
		return
	}
	byState, err := h.reportService.TriggeredByState(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch dashboard", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"today":    today,
		"total":    total,
		"by_state": byState,
	})
}

// GetThirtyDayActivity handles GET /reports/activity
func (h *ReportHandler) GetThirtyDayActivity(c *gin.Context) {
	series, err := h.reportService.ThirtyDayActivity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch activity", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": series})
}

// GetBreachProximity handles GET /reports/breach-proximity?minutes=60
func (h *ReportHandler) GetBreachProximity(c *gin.Context) {
	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minutes = parsed
		}
	}

	histories, err := h.reportService.BreachProximity(c.Request.Context(), minutes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch breach proximity", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": histories, "window_minutes": minutes, "total": len(histories)})
}

// GetTopBreached handles GET /reports/top-breached?limit=5
func (h *ReportHandler) GetTopBreached(c *gin.Context) {
	results, err := h.reportService.TopBreached(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch top breached", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": results})
}

// GetTopTriggered handles GET /reports/top-triggered?limit=5
func (h *ReportHandler) GetTopTriggered(c *gin.Context) {
	results, err := h.reportService.TopTriggered(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch top triggered", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": results})
}

// GetTopEscalated handles GET /reports/top-escalated?limit=5
func (h *ReportHandler) GetTopEscalated(c *gin.Context) {
	results, err := h.escalationService.TopEscalated(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch top escalated", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": results})
}

// GetLevelWiseBreaches handles GET /reports/level-breaches
func (h *ReportHandler) GetLevelWiseBreaches(c *gin.Context) {
	buckets, err := h.reportService.LevelWiseBreaches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch level breaches", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": buckets})
}

func limitParam(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 5
}
