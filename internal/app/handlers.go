package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ai-gateway/internal/auth"
	"ai-gateway/internal/tokens"
	"ai-gateway/internal/usage"
)

// requireAPIKey rejects requests without a valid app API key.
func (a *App) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && !a.disableAuth {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if !auth.VerifyAppAPIKey(extractAPIKey(authHeader), a.validKeys, a.disableAuth) {
			a.log.WithField("api_key", auth.MaskToken(extractAPIKey(authHeader))).Warn("rejected admin API request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

// extractAPIKey accepts "Bearer <key>", "Bearer: <key>" or the bare key.
func extractAPIKey(header string) string {
	switch {
	case strings.HasPrefix(header, "Bearer: "):
		return strings.TrimPrefix(header, "Bearer: ")
	case strings.HasPrefix(header, "Bearer "):
		return strings.TrimPrefix(header, "Bearer ")
	default:
		return header
	}
}

func (a *App) handleStatus(c *gin.Context) {
	sessions, err := a.sessions.GetSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(sessions)})
}

func (a *App) handleListSessions(c *gin.Context) {
	sessions, err := a.sessions.GetSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	masked := make([]auth.Session, len(sessions))
	for i, s := range sessions {
		masked[i] = s.Masked()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": masked})
}

func (a *App) handleRemoveSession(c *gin.Context) {
	if err := a.sessions.RemoveSession(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type estimateRequest struct {
	tokens.Request
	Family  string `json:"family" binding:"required"`
	Account string `json:"account"`
}

type estimateResponse struct {
	tokens.Breakdown
	Limits  usage.Limits `json:"limits"`
	Allowed bool         `json:"allowed"`
	Reason  string       `json:"reason,omitempty"`
}

func (a *App) handleEstimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	breakdown := a.estimator.EstimateRequest(req.Request, req.Family)
	limits := a.limits.For(req.Family)
	resp := estimateResponse{Breakdown: breakdown, Limits: limits, Allowed: true}

	current := a.tracker.Usage(req.Account, req.Family)
	if err := usage.CheckRequest(limits, breakdown.Total, current); err != nil {
		resp.Allowed = false
		resp.Reason = err.Error()
		if errors.Is(err, usage.ErrRateLimitExceeded) {
			c.Header("Retry-After", "60")
		}
	}
	c.JSON(http.StatusOK, resp)
}

type usageRequest struct {
	Account string `json:"account" binding:"required"`
	Family  string `json:"family" binding:"required"`
	Tokens  int    `json:"tokens" binding:"min=0"`
}

func (a *App) handleRecordUsage(c *gin.Context) {
	var req usageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	current := a.tracker.Record(req.Account, req.Family, req.Tokens)
	if a.billing.Enabled() && a.subscriptionItem != "" {
		if err := a.billing.Report(c.Request.Context(), a.subscriptionItem, int64(req.Tokens)); err != nil {
			a.log.WithError(err).WithField("account", req.Account).Error("failed to report usage")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "usage": current})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"usage": current})
}
