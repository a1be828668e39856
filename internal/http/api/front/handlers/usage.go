package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/usage"
)

// UsageHandler reports the user's own usage breakdown.
type UsageHandler struct {
	reporter *usage.Reporter
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(reporter *usage.Reporter) *UsageHandler {
	return &UsageHandler{reporter: reporter}
}

// Stats returns the user's current-period usage grouped by category.
func (h *UsageHandler) Stats(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	from, to := ledger.MonthPeriod(time.Now())
	stats, errStats := h.reporter.UserStats(c.Request.Context(), user.ID, from, to)
	if errStats != nil {
		respondError(c, errStats)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"periodStart": from,
		"periodEnd":   to,
		"byCategory":  stats,
	})
}
