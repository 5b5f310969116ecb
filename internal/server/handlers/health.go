// Package handlers provides HTTP request handlers for the server.
// This file handles health check endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-oss/dispatch-engine/internal/cloudcode"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// HealthHandler reports the account pool's status for operator dashboards
// and uptime probes.
type HealthHandler struct {
	accounts *token.Manager
}

func NewHealthHandler(accounts *token.Manager) *HealthHandler {
	return &HealthHandler{accounts: accounts}
}

type accountDetail struct {
	Email    string                 `json:"email"`
	Source   string                 `json:"source"`
	Status   string                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	LastUsed string                 `json:"lastUsed,omitempty"`
	Models   map[string]interface{} `json:"models,omitempty"`
}

// Health handles GET /health, reporting pool-wide counts plus, for each
// enabled account, its current per-model quota as last observed from the
// upstream account API.
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()
	status := h.accounts.GetStatus()
	allAccounts := h.accounts.GetAllAccounts()
	ctx := c.Request.Context()

	details := make([]accountDetail, 0, len(allAccounts))
	for _, acc := range allAccounts {
		d := accountDetail{Email: acc.Email, Source: acc.Source}
		if acc.LastUsed > 0 {
			d.LastUsed = time.UnixMilli(acc.LastUsed).Format(time.RFC3339)
		}

		if acc.IsInvalid {
			d.Status = "invalid"
			d.Error = acc.InvalidReason
			details = append(details, d)
			continue
		}
		if !acc.Enabled {
			d.Status = "disabled"
			details = append(details, d)
			continue
		}

		accessToken, err := h.accounts.GetTokenForAccount(ctx, acc)
		if err != nil {
			d.Status = "error"
			d.Error = err.Error()
			details = append(details, d)
			continue
		}

		projectID := acc.ProjectID
		quotas, err := cloudcode.GetModelQuotas(ctx, accessToken, projectID)
		if err != nil {
			utils.Warn("[health] quota lookup failed for %s: %v", acc.Email, err)
			d.Status = "ok"
			details = append(details, d)
			continue
		}

		d.Status = "ok"
		d.Models = make(map[string]interface{}, len(quotas))
		for modelID, q := range quotas {
			remaining := "N/A"
			if q.RemainingFraction != nil {
				remaining = utils.FormatPercent(*q.RemainingFraction)
			}
			resetTime := ""
			if q.ResetTime != nil {
				resetTime = *q.ResetTime
			}
			d.Models[modelID] = map[string]interface{}{"remaining": remaining, "resetTime": resetTime}
		}
		details = append(details, d)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"mode":      status.Mode,
		"counts": gin.H{
			"total":     status.Total,
			"available": status.Available,
			"invalid":   status.Invalid,
		},
		"accounts": details,
	})
}
