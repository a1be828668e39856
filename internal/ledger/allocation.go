package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationRemaining returns the non-negative unused points of an allocation.
func AllocationRemaining(a *models.CreditAllocation) int64 {
	if a == nil {
		return 0
	}
	return maxInt64(0, a.AllocatedPoints-a.UsedPoints)
}

// FindAllocation returns the member's allocation covering now, or nil when
// none exists. It never creates rows; organization admins use this lookup and
// fall back to the organization pool when it returns nil.
func (l *Ledger) FindAllocation(ctx context.Context, orgID, userID uint64, now time.Time) (*models.CreditAllocation, error) {
	var row models.CreditAllocation
	errFirst := l.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Where("period_start <= ? AND period_end >= ?", now.UTC(), now.UTC()).
		Order("period_start DESC").
		First(&row).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: find allocation: %w", errFirst)
	}
	return &row, nil
}

// ResolveAllocation returns the member's current-period allocation,
// auto-provisioning one seeded from the member's access-key limit when
// absent. A member whose key declares no limit gets an ephemeral
// zero-allocation (ID 0, never persisted): no points may be consumed.
//
// Creation is idempotent per (organization, member, period): the insert
// ignores unique-index conflicts and the loser of a race re-reads the
// winner's row.
func (l *Ledger) ResolveAllocation(ctx context.Context, orgID, userID uint64, now time.Time) (*models.CreditAllocation, error) {
	existing, errFind := l.FindAllocation(ctx, orgID, userID, now)
	if errFind != nil {
		return nil, errFind
	}
	if existing != nil {
		return existing, nil
	}

	periodStart, periodEnd := MonthPeriod(now)

	var key models.AccessKey
	errKey := l.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ? AND is_enabled = ?", orgID, userID, true).
		Order("id DESC").
		First(&key).Error
	if errKey != nil && !errors.Is(errKey, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ledger: load access key: %w", errKey)
	}
	if errKey != nil || key.PeriodPointLimit <= 0 {
		return &models.CreditAllocation{
			OrganizationID: orgID,
			UserID:         userID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
		}, nil
	}

	fresh := models.CreditAllocation{
		OrganizationID:  orgID,
		UserID:          userID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		AllocatedPoints: key.PeriodPointLimit,
		Note:            "auto-provisioned from access key",
	}
	if errCreate := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(&fresh).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: create allocation: %w", errCreate)
	}

	created, errReread := l.FindAllocation(ctx, orgID, userID, now)
	if errReread != nil {
		return nil, errReread
	}
	if created == nil {
		return nil, fmt.Errorf("ledger: allocation missing after create")
	}
	return created, nil
}

// SetAllocation overrides the member's current-period allocation grant,
// creating the row if necessary. This is the organization-admin path; it
// never decrements used points.
func (l *Ledger) SetAllocation(ctx context.Context, orgID, userID uint64, now time.Time, points int64, note string) (*models.CreditAllocation, error) {
	if points < 0 {
		return nil, fmt.Errorf("ledger: negative allocation: %d", points)
	}
	periodStart, periodEnd := MonthPeriod(now)
	row := models.CreditAllocation{
		OrganizationID:  orgID,
		UserID:          userID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		AllocatedPoints: points,
		Note:            note,
	}
	if errUpsert := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]any{"allocated_points": points, "note": note}),
		}).
		Create(&row).Error; errUpsert != nil {
		return nil, fmt.Errorf("ledger: set allocation: %w", errUpsert)
	}
	return l.FindAllocation(ctx, orgID, userID, now)
}
