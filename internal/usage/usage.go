package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

// Reporter answers usage breakdown queries over recorded debits.
type Reporter struct {
	db *gorm.DB
}

// NewReporter constructs a Reporter backed by GORM.
func NewReporter(conn *gorm.DB) *Reporter {
	return &Reporter{db: conn}
}

// CategoryStat is aggregated usage for one debit category.
type CategoryStat struct {
	Category    string `json:"category"`
	Requests    int64  `json:"requests"`
	Points      int64  `json:"points"`
	TotalTokens int64  `json:"totalTokens"`
}

// MemberStat is aggregated usage for one organization member.
type MemberStat struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Requests int64  `json:"requests"`
	Points   int64  `json:"points"`
}

// UserStats returns a per-category breakdown of one user's usage inside the
// given period. Failed (compensated) rows are excluded.
func (r *Reporter) UserStats(ctx context.Context, userID uint64, from, to time.Time) ([]CategoryStat, error) {
	var stats []CategoryStat
	errFind := r.db.WithContext(ctx).
		Model(&models.Usage{}).
		Select("category, COUNT(*) AS requests, COALESCE(SUM(points), 0) AS points, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("user_id = ? AND failed = ? AND requested_at >= ? AND requested_at < ?", userID, false, from, to).
		Group("category").
		Order("category ASC").
		Scan(&stats).Error
	if errFind != nil {
		return nil, fmt.Errorf("usage: user stats: %w", errFind)
	}
	return stats, nil
}

// OrgCategoryStats returns a per-category breakdown across an organization.
func (r *Reporter) OrgCategoryStats(ctx context.Context, orgID uint64, from, to time.Time) ([]CategoryStat, error) {
	var stats []CategoryStat
	errFind := r.db.WithContext(ctx).
		Model(&models.Usage{}).
		Select("category, COUNT(*) AS requests, COALESCE(SUM(points), 0) AS points, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("organization_id = ? AND failed = ? AND requested_at >= ? AND requested_at < ?", orgID, false, from, to).
		Group("category").
		Order("category ASC").
		Scan(&stats).Error
	if errFind != nil {
		return nil, fmt.Errorf("usage: org category stats: %w", errFind)
	}
	return stats, nil
}

// OrgMemberStats returns a per-member breakdown across an organization,
// highest spend first.
func (r *Reporter) OrgMemberStats(ctx context.Context, orgID uint64, from, to time.Time) ([]MemberStat, error) {
	var stats []MemberStat
	errFind := r.db.WithContext(ctx).
		Model(&models.Usage{}).
		Select("usages.user_id, users.username, COUNT(*) AS requests, COALESCE(SUM(usages.points), 0) AS points").
		Joins("LEFT JOIN users ON users.id = usages.user_id").
		Where("usages.organization_id = ? AND usages.failed = ? AND usages.requested_at >= ? AND usages.requested_at < ?", orgID, false, from, to).
		Group("usages.user_id, users.username").
		Order("points DESC").
		Scan(&stats).Error
	if errFind != nil {
		return nil, fmt.Errorf("usage: org member stats: %w", errFind)
	}
	return stats, nil
}
