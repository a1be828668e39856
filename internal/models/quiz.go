package models

import (
	"time"

	"gorm.io/datatypes"
)

// Quiz statuses.
const (
	// QuizStatusPending marks an unanswered quiz.
	QuizStatusPending = "pending"
	// QuizStatusAnswered marks an answered quiz; answered is terminal.
	QuizStatusAnswered = "answered"
)

// Quiz is one comprehension question attached to an artifact.
// Options is a JSON array of {label, text} entries with labels A-C.
// Once answered, the row is immutable; re-answering is rejected.
type Quiz struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ArtifactID uint64 `gorm:"not null;index"` // Owning artifact.
	Level      int    `gorm:"not null"`       // 1-based ordinal within the artifact.

	Question     string         `gorm:"type:text;not null"`               // Question text.
	Options      datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Answer options.
	CorrectLabel string         `gorm:"type:text;not null"`               // Correct option label.

	Status     string     `gorm:"type:text;not null;default:'pending'"` // pending or answered.
	UserAnswer string     `gorm:"type:text"`                            // Submitted answer label.
	IsCorrect  bool       `gorm:"not null;default:false"`               // Whether the submitted answer matched.
	AnsweredAt *time.Time // Answer timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// QuizOption is one selectable answer stored in the Options JSON column.
type QuizOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}
