package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

// CreditHandler handles credit purchases.
type CreditHandler struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(db *gorm.DB, l *ledger.Ledger) *CreditHandler {
	return &CreditHandler{db: db, ledger: l}
}

// purchaseRequest defines the request body for a credit purchase.
type purchaseRequest struct {
	Points int64 `json:"points"`
}

// Purchase adds purchased points to the account's pool. Plans that cannot
// purchase (the free tier, allocation-governed members) are rejected.
func (h *CreditHandler) Purchase(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var body purchaseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Points <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points must be positive"})
		return
	}

	var org *models.Organization
	if user.OrganizationID != nil {
		org = &models.Organization{}
		if errFind := h.db.WithContext(c.Request.Context()).
			First(org, "id = ?", *user.OrganizationID).Error; errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
	}
	bc := h.ledger.ResolveBalanceContext(user, org)
	if !bc.Plan.CanPurchase {
		c.JSON(http.StatusForbidden, gin.H{"error": "plan cannot purchase credits"})
		return
	}
	if bc.IsOrganization && !user.IsOrgAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only organization admins can purchase credits"})
		return
	}

	var balance *models.CreditBalance
	var errPurchase error
	if bc.IsOrganization {
		balance, errPurchase = h.ledger.CreditPurchase(c.Request.Context(), nil, user.OrganizationID, body.Points)
	} else {
		balance, errPurchase = h.ledger.CreditPurchase(c.Request.Context(), &user.ID, nil, body.Points)
	}
	if errPurchase != nil {
		respondError(c, errPurchase)
		return
	}

	remaining := ledger.RemainingPoints(balance, bc.MonthlyPoints)
	c.JSON(http.StatusOK, gin.H{
		"purchased": gin.H{
			"total":     balance.Balance,
			"used":      balance.PurchasedUsed,
			"remaining": remaining.Purchased,
		},
	})
}
