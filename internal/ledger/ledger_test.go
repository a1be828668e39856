package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/plan"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.AccessKey{},
		&models.CreditBalance{},
		&models.CreditAllocation{},
		&models.Usage{},
	); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	db := setupLedgerDB(t)
	return New(db, plan.NewRegistry()), db
}

func TestRemainingPointsNeverNegative(t *testing.T) {
	cases := []struct {
		name          string
		balance       models.CreditBalance
		monthlyPoints int64
		wantPlan      int64
		wantPurchased int64
	}{
		{
			name:          "unused",
			balance:       models.CreditBalance{},
			monthlyPoints: 100,
			wantPlan:      100,
		},
		{
			name:          "partially used",
			balance:       models.CreditBalance{MonthlyUsed: 40, Balance: 50, PurchasedUsed: 10},
			monthlyPoints: 100,
			wantPlan:      60,
			wantPurchased: 40,
		},
		{
			name:          "overused beyond soft limits",
			balance:       models.CreditBalance{MonthlyUsed: 250, Balance: 20, PurchasedUsed: 90},
			monthlyPoints: 100,
			wantPlan:      0,
			wantPurchased: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RemainingPoints(&tc.balance, tc.monthlyPoints)
			if got.Plan != tc.wantPlan || got.Purchased != tc.wantPurchased {
				t.Fatalf("RemainingPoints = %+v, want plan=%d purchased=%d", got, tc.wantPlan, tc.wantPurchased)
			}
			if got.Plan < 0 || got.Purchased < 0 {
				t.Fatalf("RemainingPoints returned negative values: %+v", got)
			}
		})
	}
}

func TestResolveBalanceContextDefaultsToFree(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ctx := ledger.ResolveBalanceContext(&models.User{}, nil)
	if ctx.Plan.ID != plan.Free {
		t.Fatalf("expected free plan, got %q", ctx.Plan.ID)
	}
	if ctx.IsOrganization {
		t.Fatalf("individual account must not resolve as organization")
	}

	orgID := uint64(7)
	org := &models.Organization{ID: orgID, PlanID: plan.Business}
	member := &models.User{OrganizationID: &orgID}
	orgCtx := ledger.ResolveBalanceContext(member, org)
	if orgCtx.Plan.ID != plan.Business || !orgCtx.IsOrganization {
		t.Fatalf("expected business org context, got %+v", orgCtx)
	}
}

func TestGetOrCreateBalanceIsLazyAndIdempotent(t *testing.T) {
	ledger, db := newTestLedger(t)
	userID := uint64(1)

	first, errFirst := ledger.GetOrCreateBalance(context.Background(), &userID, nil)
	if errFirst != nil {
		t.Fatalf("first get: %v", errFirst)
	}
	second, errSecond := ledger.GetOrCreateBalance(context.Background(), &userID, nil)
	if errSecond != nil {
		t.Fatalf("second get: %v", errSecond)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same balance row, got %d and %d", first.ID, second.ID)
	}

	var count int64
	db.Model(&models.CreditBalance{}).Where("user_id = ?", userID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 balance row, got %d", count)
	}
}

func TestGetOrCreateBalanceRequiresExactlyOneOwner(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uint64(1)
	orgID := uint64(2)

	if _, err := ledger.GetOrCreateBalance(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for no owner")
	}
	if _, err := ledger.GetOrCreateBalance(context.Background(), &userID, &orgID); err == nil {
		t.Fatalf("expected error for two owners")
	}
}

func TestDebitUsageSplitsPlanThenPurchased(t *testing.T) {
	ledger, db := newTestLedger(t)
	userID := uint64(1)

	balance, errGet := ledger.GetOrCreateBalance(context.Background(), &userID, nil)
	if errGet != nil {
		t.Fatalf("get balance: %v", errGet)
	}
	if errSeed := db.Model(&models.CreditBalance{}).Where("id = ?", balance.ID).
		Updates(map[string]any{"monthly_used": 95, "balance": 50}).Error; errSeed != nil {
		t.Fatalf("seed balance: %v", errSeed)
	}

	usage := &models.Usage{UserID: userID, Model: plan.ModelStandard, RequestedAt: time.Now().UTC()}
	result, errDebit := ledger.DebitUsage(context.Background(), Debit{
		UserID:        userID,
		MonthlyPoints: 100,
		Points:        10,
		Category:      models.UsageCategoryConversation,
		Usage:         usage,
	})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.FromPlan != 5 || result.FromPurchased != 5 {
		t.Fatalf("expected 5/5 split, got %+v", result)
	}
	if result.ChargedTo != models.ChargedToMixed {
		t.Fatalf("expected mixed charge, got %q", result.ChargedTo)
	}
	if result.UsageID == 0 {
		t.Fatalf("expected persisted usage row")
	}

	var reloaded models.CreditBalance
	db.First(&reloaded, balance.ID)
	if reloaded.MonthlyUsed != 100 || reloaded.PurchasedUsed != 5 {
		t.Fatalf("unexpected balance after debit: monthly_used=%d purchased_used=%d", reloaded.MonthlyUsed, reloaded.PurchasedUsed)
	}

	var usageRow models.Usage
	db.First(&usageRow, result.UsageID)
	if usageRow.Points != 10 || usageRow.ChargedTo != models.ChargedToMixed {
		t.Fatalf("unexpected usage row: %+v", usageRow)
	}
}

func TestDebitUsageAllocationGoverned(t *testing.T) {
	ledger, db := newTestLedger(t)

	alloc := models.CreditAllocation{
		OrganizationID:  1,
		UserID:          2,
		PeriodStart:     time.Now().UTC().Add(-time.Hour),
		PeriodEnd:       time.Now().UTC().Add(time.Hour),
		AllocatedPoints: 100,
	}
	if errCreate := db.Create(&alloc).Error; errCreate != nil {
		t.Fatalf("create allocation: %v", errCreate)
	}

	result, errDebit := ledger.DebitUsage(context.Background(), Debit{
		UserID:       2,
		AllocationID: &alloc.ID,
		Points:       7,
		Category:     models.UsageCategoryConversation,
	})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.FromAllocation != 7 || result.ChargedTo != models.ChargedToAllocation {
		t.Fatalf("unexpected result: %+v", result)
	}

	var reloaded models.CreditAllocation
	db.First(&reloaded, alloc.ID)
	if reloaded.UsedPoints != 7 {
		t.Fatalf("expected used_points=7, got %d", reloaded.UsedPoints)
	}
}

func TestCompensateReversesDebitAndFloorsAtZero(t *testing.T) {
	ledger, db := newTestLedger(t)
	userID := uint64(1)

	if _, errGet := ledger.GetOrCreateBalance(context.Background(), &userID, nil); errGet != nil {
		t.Fatalf("get balance: %v", errGet)
	}

	usage := &models.Usage{UserID: userID, Model: plan.ModelSwift, RequestedAt: time.Now().UTC()}
	debit := Debit{
		UserID:        userID,
		MonthlyPoints: 100,
		Points:        10,
		Category:      models.UsageCategoryConversation,
		Usage:         usage,
	}
	result, errDebit := ledger.DebitUsage(context.Background(), debit)
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}

	if errComp := ledger.Compensate(context.Background(), debit, result); errComp != nil {
		t.Fatalf("compensate: %v", errComp)
	}

	var reloaded models.CreditBalance
	db.Where("user_id = ?", userID).First(&reloaded)
	if reloaded.MonthlyUsed != 0 {
		t.Fatalf("expected monthly_used reset to 0, got %d", reloaded.MonthlyUsed)
	}

	var usageRow models.Usage
	db.First(&usageRow, result.UsageID)
	if !usageRow.Failed {
		t.Fatalf("expected compensated usage row flagged failed")
	}

	// A second compensation must not drive counters negative.
	if errComp := ledger.Compensate(context.Background(), debit, result); errComp != nil {
		t.Fatalf("second compensate: %v", errComp)
	}
	db.Where("user_id = ?", userID).First(&reloaded)
	if reloaded.MonthlyUsed != 0 {
		t.Fatalf("counter went negative or drifted: %d", reloaded.MonthlyUsed)
	}
}

func TestCreditPurchase(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uint64(9)

	row, errCredit := ledger.CreditPurchase(context.Background(), &userID, nil, 500)
	if errCredit != nil {
		t.Fatalf("credit purchase: %v", errCredit)
	}
	if row.Balance != 500 {
		t.Fatalf("expected balance 500, got %d", row.Balance)
	}

	if _, err := ledger.CreditPurchase(context.Background(), &userID, nil, 0); err == nil {
		t.Fatalf("expected error for zero purchase")
	}
}

func TestRolloverExpired(t *testing.T) {
	ledger, db := newTestLedger(t)
	userID := uint64(3)

	stale := models.CreditBalance{
		UserID:      &userID,
		MonthlyUsed: 80,
		PeriodStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2020, 1, 31, 23, 59, 59, 0, time.UTC),
	}
	if errCreate := db.Create(&stale).Error; errCreate != nil {
		t.Fatalf("create stale balance: %v", errCreate)
	}

	touched, errRollover := ledger.RolloverExpired(context.Background(), time.Now())
	if errRollover != nil {
		t.Fatalf("rollover: %v", errRollover)
	}
	if touched != 1 {
		t.Fatalf("expected 1 row touched, got %d", touched)
	}

	var reloaded models.CreditBalance
	db.First(&reloaded, stale.ID)
	if reloaded.MonthlyUsed != 0 {
		t.Fatalf("expected monthly_used reset, got %d", reloaded.MonthlyUsed)
	}
	if !reloaded.PeriodEnd.After(time.Now().UTC().Add(-time.Hour)) {
		t.Fatalf("expected advanced period end, got %s", reloaded.PeriodEnd)
	}
}
