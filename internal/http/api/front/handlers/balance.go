package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"gorm.io/gorm"
)

// BalanceHandler reports the account's credit standing and what it can afford.
type BalanceHandler struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewBalanceHandler constructs a BalanceHandler.
func NewBalanceHandler(db *gorm.DB, l *ledger.Ledger) *BalanceHandler {
	return &BalanceHandler{db: db, ledger: l}
}

// Get returns the balance breakdown, affordable models, and the admission
// decision for the next conversation turn.
func (h *BalanceHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	ent, errResolve := resolveEntitlement(c.Request.Context(), h.db, h.ledger, user)
	if errResolve != nil {
		respondError(c, errResolve)
		return
	}

	points := gin.H{
		"monthly": gin.H{
			"total":     ent.Context.MonthlyPoints,
			"used":      ent.Balance.MonthlyUsed,
			"remaining": ent.Remaining.Plan,
		},
		"purchased": gin.H{
			"total":     ent.Balance.Balance,
			"used":      ent.Balance.PurchasedUsed,
			"remaining": ent.Remaining.Purchased,
		},
	}
	if ent.Allocation != nil {
		points["allocated"] = gin.H{
			"total":     ent.Allocation.AllocatedPoints,
			"used":      ent.Allocation.UsedPoints,
			"remaining": ledger.AllocationRemaining(ent.Allocation),
		}
	} else {
		points["allocated"] = nil
	}

	remainingConversations := gin.H{}
	for _, m := range ent.Decision.AvailableModels {
		remainingConversations[m.Name] = m.RemainingTurns
	}

	c.JSON(http.StatusOK, gin.H{
		"plan": gin.H{
			"id":           ent.Context.Plan.ID,
			"name":         ent.Context.Plan.Name,
			"organization": ent.Context.IsOrganization,
		},
		"points":                 points,
		"remainingConversations": remainingConversations,
		"availableModels":        ent.Decision.AvailableModels,
		"canStartConversation":   ent.Decision.Allowed,
		"lowBalanceWarning":      ent.Decision.LowBalanceWarning,
		"outOfCreditsActions":    ent.Decision.OutOfCreditsActions,
	})
}
