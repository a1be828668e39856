package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/learnloop-ai/LearnLoopServer/internal/admission"
	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// contextUserKey holds the authenticated user in the gin context.
const contextUserKey = "user"

// SetCurrentUser stores the authenticated user for downstream handlers.
func SetCurrentUser(c *gin.Context, user *models.User) {
	c.Set(contextUserKey, user)
}

// CurrentUserID returns the authenticated user's ID, for middleware use.
func CurrentUserID(c *gin.Context) (uint64, bool) {
	user, ok := currentUser(c)
	if !ok {
		return 0, false
	}
	return user.ID, true
}

// currentUser returns the authenticated user loaded by the auth middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// respondError writes a typed rejection. Unexpected faults are logged and
// surfaced as a generic internal error without detail.
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)

	var appErr *apperrors.Error
	message := "internal error"
	if errors.As(err, &appErr) && code != apperrors.CodeInternal {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": message, "code": string(code)})
}

// newPublicID mints an external identifier with a type prefix.
func newPublicID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// entitlement bundles everything needed to answer "what can this account do
// right now": effective plan, pool balances, the governing allocation when one
// applies, and the admission decision derived from them.
type entitlement struct {
	Context    ledger.BalanceContext
	Balance    *models.CreditBalance
	Allocation *models.CreditAllocation // nil unless allocation-governed.
	Remaining  ledger.Remaining
	Decision   admission.Decision
}

// resolveEntitlement loads the account's pools and runs admission.
//
// Organization members resolve their per-member allocation first (creating it
// from the access-key limit when absent). Organization admins without an
// explicit allocation fall back to the organization pool itself; that path
// never auto-creates an allocation row.
func resolveEntitlement(ctx context.Context, db *gorm.DB, l *ledger.Ledger, user *models.User) (*entitlement, error) {
	var org *models.Organization
	if user.OrganizationID != nil {
		org = &models.Organization{}
		if errFind := db.WithContext(ctx).First(org, "id = ?", *user.OrganizationID).Error; errFind != nil {
			return nil, fmt.Errorf("handlers: load organization: %w", errFind)
		}
	}
	bc := l.ResolveBalanceContext(user, org)

	var balance *models.CreditBalance
	var errBalance error
	if bc.IsOrganization {
		balance, errBalance = l.GetOrCreateBalance(ctx, nil, user.OrganizationID)
	} else {
		balance, errBalance = l.GetOrCreateBalance(ctx, &user.ID, nil)
	}
	if errBalance != nil {
		return nil, errBalance
	}

	var allocation *models.CreditAllocation
	if bc.IsOrganization {
		now := time.Now()
		if user.IsOrgAdmin() {
			found, errFind := l.FindAllocation(ctx, *user.OrganizationID, user.ID, now)
			if errFind != nil {
				return nil, errFind
			}
			allocation = found
		} else {
			resolved, errResolve := l.ResolveAllocation(ctx, *user.OrganizationID, user.ID, now)
			if errResolve != nil {
				return nil, errResolve
			}
			allocation = resolved
		}
	}

	remaining := ledger.RemainingPoints(balance, bc.MonthlyPoints)
	input := admission.Input{
		Plan:                     bc.Plan,
		IsOrganization:           bc.IsOrganization,
		PlanPointsRemaining:      remaining.Plan,
		PurchasedPointsRemaining: remaining.Purchased,
		CanPurchaseCredits:       bc.Plan.CanPurchase,
		LowBalanceFactor:         int64(settings.Int(settings.LowBalanceFactorKey, settings.DefaultLowBalanceFactor)),
	}
	if allocation != nil {
		allocRemaining := ledger.AllocationRemaining(allocation)
		input.AllocatedPointsRemaining = &allocRemaining
		input.CanPurchaseCredits = false
	}

	return &entitlement{
		Context:    bc,
		Balance:    balance,
		Allocation: allocation,
		Remaining:  remaining,
		Decision:   admission.CheckCanStartConversation(input),
	}, nil
}
