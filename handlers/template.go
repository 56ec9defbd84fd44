package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Vivekb0311/sla/db"
	"github.com/Vivekb0311/sla/services"
)

type TemplateHandler struct {
	templateService *services.SlaTemplateService
}

func NewTemplateHandler(templateService *services.SlaTemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

// CreateTemplate handles POST /templates
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req db.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	template, err := h.templateService.CreateTemplate(c.Request.Context(), &req, callerID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to create template", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, template)
}

// GetTemplate handles GET /templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id := c.Param("id")
	template, err := h.templateService.GetTemplate(c.Request.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch template", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, template)
}

// ListTemplates handles GET /templates?application=...
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templateService.ListTemplates(c.Request.Context(), c.Query("application"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch templates", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates, "total": len(templates)})
}

// UpdateTemplate handles PUT /templates/:id
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	id := c.Param("id")

	var req db.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	template, err := h.templateService.UpdateTemplate(c.Request.Context(), id, &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to update template", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, template)
}

// ActivateTemplate handles POST /templates/:id/activate. Any other active
// template for the same (application, entity_type) is deactivated.
func (h *TemplateHandler) ActivateTemplate(c *gin.Context) {
	id := c.Param("id")
	if err := h.templateService.ActivateTemplate(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate template", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template activated", "id": id})
}

// DeactivateTemplate handles POST /templates/:id/deactivate
func (h *TemplateHandler) DeactivateTemplate(c *gin.Context) {
	id := c.Param("id")
	if err := h.templateService.DeactivateTemplate(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate template", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deactivated", "id": id})
}
