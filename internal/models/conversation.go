package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation modes.
const (
	// ModeExplanation is the concept-explanation chat mode.
	ModeExplanation = "explanation"
	// ModeGeneration is the code-generation chat mode.
	ModeGeneration = "generation"
	// ModeBrainstorm is the project-brainstorming chat mode.
	ModeBrainstorm = "brainstorm"
)

// Message roles.
const (
	// RoleUser marks a message authored by the user.
	RoleUser = "user"
	// RoleAssistant marks a message authored by the assistant.
	RoleAssistant = "assistant"
)

// Conversation stores a chat session and its compaction metadata.
// Summary fields describe the most recent compact summary; SummarizedMessageCount
// is zero when no summary exists. LastSummarizedMessageIndex is monotonically
// non-decreasing across regenerations.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PublicID string `gorm:"type:text;not null;uniqueIndex"` // External identifier.
	UserID   uint64 `gorm:"not null;index"`                 // Owning user.
	Mode     string `gorm:"type:text;not null"`             // Conversation mode.
	Title    string `gorm:"type:text"`                      // Display title.

	SummaryContent         string     `gorm:"type:text"`          // Compact summary text; empty means none.
	SummaryGeneratedAt     *time.Time // Summary generation time.
	SummarizedMessageCount int        `gorm:"not null;default:0"` // Messages folded into the summary.
	SummaryTokens          int64      `gorm:"not null;default:0"` // Estimated token cost of the summary text.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasSummary reports whether a compact summary exists.
func (c *Conversation) HasSummary() bool {
	return c != nil && c.SummarizedMessageCount > 0 && c.SummaryContent != ""
}

// LastSummarizedMessageIndex returns the 0-based index of the last message
// folded into the summary, or -1 when no summary exists.
func (c *Conversation) LastSummarizedMessageIndex() int {
	if !c.HasSummary() {
		return -1
	}
	return c.SummarizedMessageCount - 1
}

// Message is one turn of a conversation, append-only.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;index"`     // Owning conversation.
	Role           string `gorm:"type:text;not null"` // user or assistant.
	Content        string `gorm:"type:text;not null"` // Message text.

	Attachments datatypes.JSON `gorm:"type:jsonb"` // Optional attachment metadata.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
