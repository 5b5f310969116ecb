// Package handlers provides HTTP request handlers for the server.
// This file handles model listing endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-oss/dispatch-engine/internal/cloudcode"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// ModelsHandler handles model listing endpoints
type ModelsHandler struct {
	accounts *token.Manager
}

func NewModelsHandler(accounts *token.Manager) *ModelsHandler {
	return &ModelsHandler{accounts: accounts}
}

// ListModels handles GET /v1/models - OpenAI-compatible format
func (h *ModelsHandler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.accounts.SelectAccount(ctx, "", token.SelectOptions{})
	if err != nil || result.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "overloaded_error",
				"message": "no accounts available",
			},
		})
		return
	}

	accessToken, err := h.accounts.GetTokenForAccount(ctx, result.Account)
	if err != nil {
		utils.Error("[API] error getting token for models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{"type": "api_error", "message": err.Error()},
		})
		return
	}

	models, err := cloudcode.ListModels(ctx, accessToken)
	if err != nil {
		utils.Error("[API] error listing models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{"type": "api_error", "message": err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, models)
}
