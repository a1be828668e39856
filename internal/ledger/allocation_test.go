package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
)

func TestResolveAllocationWithoutAccessKeyIsEphemeralZero(t *testing.T) {
	ledger, db := newTestLedger(t)

	alloc, errResolve := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if alloc.ID != 0 {
		t.Fatalf("expected ephemeral allocation, got persisted row %d", alloc.ID)
	}
	if alloc.AllocatedPoints != 0 {
		t.Fatalf("expected zero allocation, got %d", alloc.AllocatedPoints)
	}

	var count int64
	db.Model(&models.CreditAllocation{}).Count(&count)
	if count != 0 {
		t.Fatalf("ephemeral allocation must not be persisted, found %d rows", count)
	}
}

func TestResolveAllocationSeedsFromAccessKey(t *testing.T) {
	ledger, db := newTestLedger(t)

	key := models.AccessKey{OrganizationID: 1, UserID: 2, Key: "llk_test", PeriodPointLimit: 300, IsEnabled: true}
	if errCreate := db.Create(&key).Error; errCreate != nil {
		t.Fatalf("create access key: %v", errCreate)
	}

	alloc, errResolve := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if alloc.ID == 0 {
		t.Fatalf("expected persisted allocation")
	}
	if alloc.AllocatedPoints != 300 {
		t.Fatalf("expected allocation seeded with 300, got %d", alloc.AllocatedPoints)
	}

	// A later access-key change must not retroactively alter the allocation.
	if errUpdate := db.Model(&models.AccessKey{}).Where("id = ?", key.ID).
		Update("period_point_limit", 50).Error; errUpdate != nil {
		t.Fatalf("update key: %v", errUpdate)
	}
	again, errAgain := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errAgain != nil {
		t.Fatalf("second resolve: %v", errAgain)
	}
	if again.ID != alloc.ID || again.AllocatedPoints != 300 {
		t.Fatalf("allocation changed retroactively: %+v", again)
	}
}

func TestResolveAllocationIdempotentPerPeriod(t *testing.T) {
	ledger, db := newTestLedger(t)

	key := models.AccessKey{OrganizationID: 1, UserID: 2, Key: "llk_idem", PeriodPointLimit: 100, IsEnabled: true}
	if errCreate := db.Create(&key).Error; errCreate != nil {
		t.Fatalf("create access key: %v", errCreate)
	}

	first, errFirst := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errFirst != nil {
		t.Fatalf("first resolve: %v", errFirst)
	}
	second, errSecond := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errSecond != nil {
		t.Fatalf("second resolve: %v", errSecond)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same allocation row, got %d and %d", first.ID, second.ID)
	}

	var count int64
	db.Model(&models.CreditAllocation{}).Where("organization_id = ? AND user_id = ?", 1, 2).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 allocation row, got %d", count)
	}
}

func TestResolveAllocationConcurrentFirstRequests(t *testing.T) {
	ledger, db := newTestLedger(t)

	key := models.AccessKey{OrganizationID: 1, UserID: 2, Key: "llk_race", PeriodPointLimit: 100, IsEnabled: true}
	if errCreate := db.Create(&key).Error; errCreate != nil {
		t.Fatalf("create access key: %v", errCreate)
	}

	const workers = 4
	var wg sync.WaitGroup
	successes := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, errResolve := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
			if errResolve == nil && alloc != nil {
				successes <- alloc.ID
			}
		}()
	}
	wg.Wait()
	close(successes)

	var ids []uint64
	for id := range successes {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		t.Fatalf("expected at least one successful resolution")
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent resolutions returned different rows: %v", ids)
		}
	}

	var count int64
	db.Model(&models.CreditAllocation{}).Where("organization_id = ? AND user_id = ?", 1, 2).Count(&count)
	if count != 1 {
		t.Fatalf("race created %d allocation rows, want 1", count)
	}
}

func TestResolveAllocationRaceLoserReusesWinnerRow(t *testing.T) {
	ledger, db := newTestLedger(t)

	key := models.AccessKey{OrganizationID: 1, UserID: 2, Key: "llk_loser", PeriodPointLimit: 100, IsEnabled: true}
	if errCreate := db.Create(&key).Error; errCreate != nil {
		t.Fatalf("create access key: %v", errCreate)
	}

	// Simulate a winner inserting between the resolver's lookup and insert.
	periodStart, periodEnd := MonthPeriod(time.Now())
	winner := models.CreditAllocation{
		OrganizationID:  1,
		UserID:          2,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		AllocatedPoints: 42,
	}
	if errSeed := db.Create(&winner).Error; errSeed != nil {
		t.Fatalf("seed winner: %v", errSeed)
	}

	resolved, errResolve := ledger.ResolveAllocation(context.Background(), 1, 2, time.Now())
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if resolved.ID != winner.ID || resolved.AllocatedPoints != 42 {
		t.Fatalf("expected winner row reused, got %+v", resolved)
	}
}

func TestFindAllocationNeverCreates(t *testing.T) {
	ledger, db := newTestLedger(t)

	key := models.AccessKey{OrganizationID: 1, UserID: 2, Key: "llk_admin", PeriodPointLimit: 100, IsEnabled: true}
	if errCreate := db.Create(&key).Error; errCreate != nil {
		t.Fatalf("create access key: %v", errCreate)
	}

	found, errFind := ledger.FindAllocation(context.Background(), 1, 2, time.Now())
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if found != nil {
		t.Fatalf("expected nil for absent allocation, got %+v", found)
	}

	var count int64
	db.Model(&models.CreditAllocation{}).Count(&count)
	if count != 0 {
		t.Fatalf("FindAllocation must not create rows, found %d", count)
	}
}

func TestSetAllocationOverridesGrant(t *testing.T) {
	ledger, _ := newTestLedger(t)

	first, errSet := ledger.SetAllocation(context.Background(), 1, 2, time.Now(), 200, "admin grant")
	if errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	if first.AllocatedPoints != 200 {
		t.Fatalf("expected 200 points, got %d", first.AllocatedPoints)
	}

	second, errAgain := ledger.SetAllocation(context.Background(), 1, 2, time.Now(), 350, "raised")
	if errAgain != nil {
		t.Fatalf("second set: %v", errAgain)
	}
	if second.ID != first.ID {
		t.Fatalf("override must reuse the period row")
	}
	if second.AllocatedPoints != 350 {
		t.Fatalf("expected 350 points, got %d", second.AllocatedPoints)
	}
}
