package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Vivekb0311/sla/db"
	"github.com/Vivekb0311/sla/services"
)

type APIKeyHandler struct {
	apiKeyService *services.APIKeyService
}

func NewAPIKeyHandler(apiKeyService *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService: apiKeyService}
}

// CreateAPIKey handles POST /api-keys. The plaintext key is returned once and
// never stored.
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	var req db.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	key, plaintext, err := h.apiKeyService.CreateKey(c.Request.Context(), req.Name, callerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"api_key":    plaintext,
		"created_at": key.CreatedAt,
		"warning":    "Store this key securely. It will not be shown again.",
	})
}

// RevokeAPIKey handles DELETE /api-keys/:id
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.apiKeyService.RevokeKey(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked", "id": id})
}
