package models

import "time"

// Usage categories for point debits.
const (
	// UsageCategoryConversation covers normal conversation turns.
	UsageCategoryConversation = "conversation"
	// UsageCategoryCompaction covers history-summary generations.
	UsageCategoryCompaction = "compaction"
	// UsageCategoryQuiz covers quiz generations.
	UsageCategoryQuiz = "quiz"
)

// Pools a usage row was charged against.
const (
	// ChargedToPlan marks usage debited from the monthly plan grant.
	ChargedToPlan = "plan"
	// ChargedToPurchased marks usage debited from purchased points.
	ChargedToPurchased = "purchased"
	// ChargedToMixed marks usage split across plan and purchased points.
	ChargedToMixed = "mixed"
	// ChargedToAllocation marks usage debited from a member allocation.
	ChargedToAllocation = "allocation"
	// ChargedToNone marks usage that debited nothing.
	ChargedToNone = "none"
)

// Usage records metering data for a single model-assisted operation.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:text;index"` // External request identifier.

	UserID         uint64  `gorm:"not null;index"` // Acting user.
	OrganizationID *uint64 `gorm:"index"`          // Organization scope, when applicable.
	ConversationID *uint64 `gorm:"index"`          // Related conversation, when applicable.

	Model    string `gorm:"type:text;not null;index"` // Model that served the request.
	Category string `gorm:"type:text;not null;index"` // Debit category.

	InputTokens  int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Output token count.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total token count.

	Points    int64  `gorm:"not null;default:0"`           // Points debited.
	ChargedTo string `gorm:"type:text;not null;default:'none'"` // Pool the debit was applied to.

	RequestedAt time.Time `gorm:"not null;index"`         // Request timestamp.
	Failed      bool      `gorm:"not null;default:false"` // Failure flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
