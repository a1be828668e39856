package models

import "time"

// Organization member roles.
const (
	// OrgRoleOwner marks the organization owner.
	OrgRoleOwner = "owner"
	// OrgRoleAdmin marks an organization administrator.
	OrgRoleAdmin = "admin"
	// OrgRoleMember marks a regular organization member.
	OrgRoleMember = "member"
)

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Name     string `gorm:"type:text"`                      // Display name.
	Email    string `gorm:"type:text;uniqueIndex"`          // Email address.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	PlanID string `gorm:"type:text;not null;default:''"` // Individual subscription plan identifier; empty means free.

	OrganizationID *uint64       `gorm:"index"`                      // Organization membership, if any.
	Organization   *Organization `gorm:"foreignKey:OrganizationID"`  // Organization record.
	OrgRole        string        `gorm:"type:text;not null;default:''"` // Role within the organization.

	Active   bool `gorm:"not null;default:true"`  // Whether the user can sign in.
	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsOrgAdmin reports whether the user administers their organization.
func (u *User) IsOrgAdmin() bool {
	return u != nil && u.OrganizationID != nil && (u.OrgRole == OrgRoleOwner || u.OrgRole == OrgRoleAdmin)
}

// IsOrgMember reports whether the user belongs to an organization in any role.
func (u *User) IsOrgMember() bool {
	return u != nil && u.OrganizationID != nil
}
