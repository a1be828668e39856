package models

import "time"

// CreditAllocation is a per-member, per-period sub-pool carved from an
// organization's capacity. The composite unique index makes auto-creation
// idempotent; a racing creator re-reads the winner's row.
type CreditAllocation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64    `gorm:"not null;uniqueIndex:idx_alloc_member_period"` // Owning organization.
	UserID         uint64    `gorm:"not null;uniqueIndex:idx_alloc_member_period"` // Member the allocation belongs to.
	PeriodStart    time.Time `gorm:"not null;uniqueIndex:idx_alloc_member_period"` // Period start.
	PeriodEnd      time.Time `gorm:"not null"`                                     // Period end.

	AllocatedPoints int64  `gorm:"not null;default:0"` // Points granted for the period.
	UsedPoints      int64  `gorm:"not null;default:0"` // Points consumed so far.
	Note            string `gorm:"type:text"`          // Provenance note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
