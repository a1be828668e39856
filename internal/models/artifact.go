package models

import "time"

// Artifact is a generated code object optionally gated by quizzes.
// UnlockLevel is a derived aggregate: the count of correctly answered quizzes,
// recomputed from all sibling quizzes on every answer.
type Artifact struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PublicID       string `gorm:"type:text;not null;uniqueIndex"` // External identifier.
	ConversationID uint64 `gorm:"not null;index"`                 // Conversation that produced the artifact.
	MessageID      *uint64 `gorm:"index"`                         // Assistant message carrying the artifact, if tracked.

	Language string `gorm:"type:text"`          // Source language of the artifact code.
	Content  string `gorm:"type:text;not null"` // Artifact code or content.

	QuizzesGenerated bool `gorm:"not null;default:false"` // Whether quiz generation has run.
	UnlockLevel      int  `gorm:"not null;default:0"`     // Correctly answered quiz count.
	TotalQuestions   int  `gorm:"not null;default:0"`     // Total quizzes attached.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsUnlocked reports whether the artifact is fully unlocked.
func (a *Artifact) IsUnlocked() bool {
	if a == nil {
		return false
	}
	return a.TotalQuestions == 0 || a.UnlockLevel >= a.TotalQuestions
}
