package models

import "time"

// CreditBalance tracks point consumption for exactly one individual user or
// exactly one organization, never both. Limits are soft here; the admission
// controller enforces them.
type CreditBalance struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         *uint64 `gorm:"uniqueIndex"` // Owning user, if individual.
	OrganizationID *uint64 `gorm:"uniqueIndex"` // Owning organization, if tenant-level.

	MonthlyUsed   int64 `gorm:"not null;default:0"` // Points consumed from the plan grant this period.
	Balance       int64 `gorm:"not null;default:0"` // Purchased points, cumulative.
	PurchasedUsed int64 `gorm:"not null;default:0"` // Purchased points consumed.

	PeriodStart time.Time `gorm:"not null"` // Current period start.
	PeriodEnd   time.Time `gorm:"not null"` // Current period end.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
