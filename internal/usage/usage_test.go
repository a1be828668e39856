package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

func setupUsageDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:usage_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.User{}, &models.Usage{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func TestUserStatsGroupsByCategory(t *testing.T) {
	db := setupUsageDB(t)
	reporter := NewReporter(db)
	now := time.Now().UTC()
	orgID := uint64(1)

	rows := []models.Usage{
		{UserID: 7, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 5, TotalTokens: 900, RequestedAt: now},
		{UserID: 7, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 5, TotalTokens: 1100, RequestedAt: now},
		{UserID: 7, Model: "gpt-4o-mini", Category: models.UsageCategoryCompaction, Points: 1, TotalTokens: 300, RequestedAt: now},
		// Compensated rows are excluded from reports.
		{UserID: 7, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 5, RequestedAt: now, Failed: true},
		// Other users are excluded.
		{UserID: 8, OrganizationID: &orgID, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 5, RequestedAt: now},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}

	stats, err := reporter.UserStats(context.Background(), 7, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("categories = %d, want 2: %+v", len(stats), stats)
	}
	byCategory := map[string]CategoryStat{}
	for _, s := range stats {
		byCategory[s.Category] = s
	}
	conv := byCategory[models.UsageCategoryConversation]
	if conv.Requests != 2 || conv.Points != 10 || conv.TotalTokens != 2000 {
		t.Errorf("conversation stat = %+v", conv)
	}
	compact := byCategory[models.UsageCategoryCompaction]
	if compact.Requests != 1 || compact.Points != 1 {
		t.Errorf("compaction stat = %+v", compact)
	}
}

func TestOrgMemberStatsOrdersBySpend(t *testing.T) {
	db := setupUsageDB(t)
	reporter := NewReporter(db)
	now := time.Now().UTC()
	orgID := uint64(3)

	users := []models.User{
		{Username: "ada", Password: "x"},
		{Username: "lin", Password: "x"},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	rows := []models.Usage{
		{UserID: users[0].ID, OrganizationID: &orgID, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 5, RequestedAt: now},
		{UserID: users[1].ID, OrganizationID: &orgID, Model: "gpt-4o", Category: models.UsageCategoryConversation, Points: 15, RequestedAt: now},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}

	stats, err := reporter.OrgMemberStats(context.Background(), orgID, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("OrgMemberStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("members = %d, want 2", len(stats))
	}
	if stats[0].Username != "lin" || stats[0].Points != 15 {
		t.Errorf("top spender = %+v", stats[0])
	}
	if stats[1].Username != "ada" || stats[1].Points != 5 {
		t.Errorf("second spender = %+v", stats[1])
	}
}
