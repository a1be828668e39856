package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/db"
	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/plan"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger owns credit-balance and allocation state for users and organizations.
type Ledger struct {
	db      *gorm.DB
	plans   *plan.Registry
	metrics *metrics.Metrics
}

// New constructs a Ledger backed by GORM.
func New(db *gorm.DB, plans *plan.Registry) *Ledger {
	return &Ledger{db: db, plans: plans, metrics: metrics.Get()}
}

// Plans exposes the plan registry.
func (l *Ledger) Plans() *plan.Registry { return l.plans }

// BalanceContext describes the effective plan for an account.
type BalanceContext struct {
	Plan           plan.Plan // Effective plan.
	MonthlyPoints  int64     // Monthly grant from the plan.
	IsOrganization bool      // Whether the pool is organization-owned.
}

// ResolveBalanceContext determines the effective plan for an account.
// Organization members resolve to the organization plan; everyone else to
// their individual subscription, defaulting silently to free.
func (l *Ledger) ResolveBalanceContext(user *models.User, org *models.Organization) BalanceContext {
	if user != nil && user.OrganizationID != nil && org != nil {
		p := l.plans.Lookup(org.PlanID)
		return BalanceContext{Plan: p, MonthlyPoints: p.MonthlyPoints, IsOrganization: true}
	}
	var planID string
	if user != nil {
		planID = user.PlanID
	}
	p := l.plans.Lookup(planID)
	return BalanceContext{Plan: p, MonthlyPoints: p.MonthlyPoints}
}

// Remaining holds non-negative remaining point counts per pool.
type Remaining struct {
	Plan      int64 // Unused monthly grant.
	Purchased int64 // Unused purchased points.
}

// RemainingPoints computes remaining points for a balance. Results are never
// negative, even when usage counters exceed their soft limits.
func RemainingPoints(balance *models.CreditBalance, monthlyPoints int64) Remaining {
	if balance == nil {
		return Remaining{Plan: maxInt64(0, monthlyPoints)}
	}
	return Remaining{
		Plan:      maxInt64(0, monthlyPoints-balance.MonthlyUsed),
		Purchased: maxInt64(0, balance.Balance-balance.PurchasedUsed),
	}
}

// MonthPeriod returns the UTC calendar-month period containing now.
func MonthPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

// GetOrCreateBalance returns the balance row for exactly one owner, creating
// it lazily on first query. Creation is idempotent: the insert ignores
// conflicts and re-reads the surviving row.
func (l *Ledger) GetOrCreateBalance(ctx context.Context, userID, orgID *uint64) (*models.CreditBalance, error) {
	if (userID == nil) == (orgID == nil) {
		return nil, fmt.Errorf("ledger: balance requires exactly one owner")
	}

	row, errFind := l.findBalance(ctx, userID, orgID)
	if errFind == nil {
		return row, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ledger: load balance: %w", errFind)
	}

	periodStart, periodEnd := MonthPeriod(time.Now())
	fresh := models.CreditBalance{
		UserID:         userID,
		OrganizationID: orgID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	conflictColumn := "user_id"
	if orgID != nil {
		conflictColumn = "organization_id"
	}
	if errCreate := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: conflictColumn}},
			DoNothing: true,
		}).
		Create(&fresh).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: create balance: %w", errCreate)
	}

	row, errReread := l.findBalance(ctx, userID, orgID)
	if errReread != nil {
		return nil, fmt.Errorf("ledger: reload balance: %w", errReread)
	}
	return row, nil
}

// findBalance loads the balance row for one owner.
func (l *Ledger) findBalance(ctx context.Context, userID, orgID *uint64) (*models.CreditBalance, error) {
	var row models.CreditBalance
	q := l.db.WithContext(ctx)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	} else {
		q = q.Where("organization_id = ?", *orgID)
	}
	if errFirst := q.First(&row).Error; errFirst != nil {
		return nil, errFirst
	}
	return &row, nil
}

// Debit describes one usage debit request.
type Debit struct {
	UserID         uint64        // Acting user, required.
	OrganizationID *uint64       // Organization pool owner, when the debit hits an org balance.
	AllocationID   *uint64       // Allocation row governing the debit, when member-scoped.
	MonthlyPoints  int64         // Effective plan grant, used to split plan vs purchased.
	Points         int64         // Points to debit.
	Category       string        // Debit category for breakdown reporting.
	Usage          *models.Usage // Usage row persisted with the debit; Points/ChargedTo are filled in.
}

// DebitResult records how a debit was applied, so a caller that aborts the
// downstream generation can issue an exact compensating credit.
type DebitResult struct {
	FromAllocation int64  // Points taken from the member allocation.
	FromPlan       int64  // Points taken from the monthly grant.
	FromPurchased  int64  // Points taken from purchased balance.
	ChargedTo      string // Pool label recorded on the usage row.
	UsageID        uint64 // Persisted usage row, when one was supplied.
}

// DebitUsage applies a debit atomically. Increments are single conditional
// UPDATE statements guarded by a row lock, so concurrent debits against the
// same account never lose updates. There is no rollback path on downstream
// failure; callers must invoke Compensate explicitly.
func (l *Ledger) DebitUsage(ctx context.Context, d Debit) (DebitResult, error) {
	if d.Points <= 0 {
		return DebitResult{}, fmt.Errorf("ledger: non-positive debit: %d", d.Points)
	}

	var result DebitResult
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if d.AllocationID != nil {
			res := tx.Model(&models.CreditAllocation{}).
				Where("id = ?", *d.AllocationID).
				Update("used_points", gorm.Expr("used_points + ?", d.Points))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("ledger: allocation %d not found", *d.AllocationID)
			}
			result.FromAllocation = d.Points
			result.ChargedTo = models.ChargedToAllocation
		} else {
			userID := &d.UserID
			var orgID *uint64
			if d.OrganizationID != nil {
				userID = nil
				orgID = d.OrganizationID
			}
			var row models.CreditBalance
			q := tx.Session(&gorm.Session{})
			if tx.Dialector.Name() == db.DialectPostgres {
				// SQLite serializes writers on its own and rejects FOR UPDATE.
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			if userID != nil {
				q = q.Where("user_id = ?", *userID)
			} else {
				q = q.Where("organization_id = ?", *orgID)
			}
			if errFirst := q.First(&row).Error; errFirst != nil {
				return fmt.Errorf("ledger: lock balance: %w", errFirst)
			}

			fromPlan := maxInt64(0, d.MonthlyPoints-row.MonthlyUsed)
			if fromPlan > d.Points {
				fromPlan = d.Points
			}
			fromPurchased := d.Points - fromPlan

			updates := map[string]any{}
			if fromPlan > 0 {
				updates["monthly_used"] = gorm.Expr("monthly_used + ?", fromPlan)
			}
			if fromPurchased > 0 {
				updates["purchased_used"] = gorm.Expr("purchased_used + ?", fromPurchased)
			}
			if len(updates) > 0 {
				if errUpdate := tx.Model(&models.CreditBalance{}).
					Where("id = ?", row.ID).
					Updates(updates).Error; errUpdate != nil {
					return errUpdate
				}
			}
			result.FromPlan = fromPlan
			result.FromPurchased = fromPurchased
			switch {
			case fromPlan > 0 && fromPurchased > 0:
				result.ChargedTo = models.ChargedToMixed
			case fromPurchased > 0:
				result.ChargedTo = models.ChargedToPurchased
			default:
				result.ChargedTo = models.ChargedToPlan
			}
		}

		if d.Usage != nil {
			d.Usage.Points = d.Points
			d.Usage.Category = d.Category
			d.Usage.ChargedTo = result.ChargedTo
			if errCreate := tx.Create(d.Usage).Error; errCreate != nil {
				return errCreate
			}
			result.UsageID = d.Usage.ID
		}
		return nil
	})
	if errTx != nil {
		return DebitResult{}, errTx
	}

	l.metrics.DebitTotal.WithLabelValues(d.Category, result.ChargedTo).Inc()
	l.metrics.DebitPoints.WithLabelValues(d.Category).Add(float64(d.Points))
	return result, nil
}

// Compensate reverses a previously applied debit. Counters never go below
// zero. The original usage row, when present, is flagged as failed so
// breakdown reports exclude it.
func (l *Ledger) Compensate(ctx context.Context, d Debit, applied DebitResult) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if applied.FromAllocation > 0 && d.AllocationID != nil {
			if errUpdate := tx.Model(&models.CreditAllocation{}).
				Where("id = ?", *d.AllocationID).
				Update("used_points", gorm.Expr("CASE WHEN used_points > ? THEN used_points - ? ELSE 0 END", applied.FromAllocation, applied.FromAllocation)).
				Error; errUpdate != nil {
				return errUpdate
			}
		}
		if applied.FromPlan > 0 || applied.FromPurchased > 0 {
			q := tx.Model(&models.CreditBalance{})
			if d.OrganizationID != nil {
				q = q.Where("organization_id = ?", *d.OrganizationID)
			} else {
				q = q.Where("user_id = ?", d.UserID)
			}
			updates := map[string]any{}
			if applied.FromPlan > 0 {
				updates["monthly_used"] = gorm.Expr("CASE WHEN monthly_used > ? THEN monthly_used - ? ELSE 0 END", applied.FromPlan, applied.FromPlan)
			}
			if applied.FromPurchased > 0 {
				updates["purchased_used"] = gorm.Expr("CASE WHEN purchased_used > ? THEN purchased_used - ? ELSE 0 END", applied.FromPurchased, applied.FromPurchased)
			}
			if errUpdate := q.Updates(updates).Error; errUpdate != nil {
				return errUpdate
			}
		}
		if applied.UsageID != 0 {
			if errUpdate := tx.Model(&models.Usage{}).
				Where("id = ?", applied.UsageID).
				Update("failed", true).Error; errUpdate != nil {
				return errUpdate
			}
		}
		return nil
	})
}

// CreditPurchase adds purchased points to an account's balance.
func (l *Ledger) CreditPurchase(ctx context.Context, userID, orgID *uint64, points int64) (*models.CreditBalance, error) {
	if points <= 0 {
		return nil, fmt.Errorf("ledger: non-positive purchase: %d", points)
	}
	row, errGet := l.GetOrCreateBalance(ctx, userID, orgID)
	if errGet != nil {
		return nil, errGet
	}
	if errUpdate := l.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("id = ?", row.ID).
		Update("balance", gorm.Expr("balance + ?", points)).Error; errUpdate != nil {
		return nil, fmt.Errorf("ledger: credit purchase: %w", errUpdate)
	}
	return l.findBalance(ctx, userID, orgID)
}

// RolloverExpired resets monthly usage and advances the period for every
// balance whose period has ended, returning the number of rows touched.
func (l *Ledger) RolloverExpired(ctx context.Context, now time.Time) (int64, error) {
	periodStart, periodEnd := MonthPeriod(now)
	res := l.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("period_end < ?", now.UTC()).
		Updates(map[string]any{
			"monthly_used": 0,
			"period_start": periodStart,
			"period_end":   periodEnd,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: rollover: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// maxInt64 returns the larger of two int64 values.
func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
