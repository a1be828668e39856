package models

import "time"

// Organization represents a tenant holding a shared credit pool.
type Organization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name   string `gorm:"type:text;not null"`            // Display name.
	PlanID string `gorm:"type:text;not null;default:''"` // Organization plan identifier; empty means free.

	OwnerUserID uint64 `gorm:"not null;index"` // User who owns this organization.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the organization is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
