package models

import "time"

// AccessKey grants an organization member API access and declares the
// per-period point limit used to seed a member allocation. The limit is read
// only at allocation-creation time; later key changes do not retroactively
// alter an existing allocation.
type AccessKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64 `gorm:"not null;index"`                 // Owning organization.
	UserID         uint64 `gorm:"not null;index"`                 // Member the key belongs to.
	Key            string `gorm:"type:text;not null;uniqueIndex"` // Key value.

	PeriodPointLimit int64 `gorm:"not null;default:0"` // Point limit per period; 0 means no allocation grant.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the key is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
