package quiz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/db"
	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker records quiz answers and maintains the owning artifact's unlock
// level. Independent of billing and compaction.
type Tracker struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewTracker constructs a Tracker backed by GORM.
func NewTracker(conn *gorm.DB) *Tracker {
	return &Tracker{db: conn, metrics: metrics.Get()}
}

// SubmitResult is the outcome of an answer submission.
type SubmitResult struct {
	Quiz           *models.Quiz // The answered quiz.
	IsCorrect      bool         // Whether the submitted label matched.
	CurrentLevel   int          // Artifact unlock level after recomputation.
	TotalQuestions int          // Quizzes attached to the artifact.
	IsUnlocked     bool         // Whether the artifact is now fully unlocked.
	NextQuiz       *models.Quiz // Lowest-level pending quiz, nil when none remain.
}

// normalizeAnswerLabel validates and uppercases an answer label A-F.
func normalizeAnswerLabel(answer string) (string, error) {
	if len(answer) != 1 {
		return "", apperrors.Validation("answer must be a single letter A-F")
	}
	c := answer[0]
	if c >= 'a' && c <= 'f' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'F' {
		return "", apperrors.Validation("answer must be a single letter A-F")
	}
	return string(c), nil
}

// SubmitAnswer transitions a pending quiz to answered and recomputes the
// artifact unlock level from all sibling quizzes in the same transaction.
// Answered quizzes are terminal; re-answering is rejected.
func (t *Tracker) SubmitAnswer(ctx context.Context, quizID uint64, answer string) (*SubmitResult, error) {
	normalized, errNormalize := normalizeAnswerLabel(answer)
	if errNormalize != nil {
		return nil, errNormalize
	}

	var result SubmitResult
	errTx := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.Quiz
		if errFirst := tx.First(&q, "id = ?", quizID).Error; errFirst != nil {
			if errors.Is(errFirst, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("quiz not found")
			}
			return fmt.Errorf("quiz: load quiz: %w", errFirst)
		}
		if q.Status == models.QuizStatusAnswered {
			return apperrors.AlreadyAnswered("quiz already answered")
		}

		now := time.Now().UTC()
		isCorrect := normalized == q.CorrectLabel
		res := tx.Model(&models.Quiz{}).
			Where("id = ? AND status = ?", q.ID, models.QuizStatusPending).
			Updates(map[string]any{
				"status":      models.QuizStatusAnswered,
				"user_answer": normalized,
				"is_correct":  isCorrect,
				"answered_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("quiz: answer quiz: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost a race to a concurrent submission of the same quiz.
			return apperrors.AlreadyAnswered("quiz already answered")
		}
		q.Status = models.QuizStatusAnswered
		q.UserAnswer = normalized
		q.IsCorrect = isCorrect
		q.AnsweredAt = &now

		// Serialize concurrent sibling submissions on the artifact row so
		// the aggregate below cannot read a stale sibling set.
		var artifact models.Artifact
		artifactQ := tx.Session(&gorm.Session{})
		if tx.Dialector.Name() == db.DialectPostgres {
			// SQLite serializes writers on its own and rejects FOR UPDATE.
			artifactQ = artifactQ.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if errArtifact := artifactQ.First(&artifact, "id = ?", q.ArtifactID).Error; errArtifact != nil {
			return fmt.Errorf("quiz: load artifact: %w", errArtifact)
		}

		// Unlock level is an aggregate over all siblings, not an increment.
		var correctCount int64
		if errCount := tx.Model(&models.Quiz{}).
			Where("artifact_id = ? AND status = ? AND is_correct = ?", q.ArtifactID, models.QuizStatusAnswered, true).
			Count(&correctCount).Error; errCount != nil {
			return fmt.Errorf("quiz: count correct answers: %w", errCount)
		}
		if errUpdate := tx.Model(&models.Artifact{}).
			Where("id = ?", artifact.ID).
			Update("unlock_level", correctCount).Error; errUpdate != nil {
			return fmt.Errorf("quiz: update unlock level: %w", errUpdate)
		}
		artifact.UnlockLevel = int(correctCount)

		var next models.Quiz
		errNext := tx.Where("artifact_id = ? AND status = ?", q.ArtifactID, models.QuizStatusPending).
			Order("level asc").
			First(&next).Error
		if errNext != nil && !errors.Is(errNext, gorm.ErrRecordNotFound) {
			return fmt.Errorf("quiz: find next quiz: %w", errNext)
		}

		result = SubmitResult{
			Quiz:           &q,
			IsCorrect:      isCorrect,
			CurrentLevel:   artifact.UnlockLevel,
			TotalQuestions: artifact.TotalQuestions,
			IsUnlocked:     artifact.IsUnlocked(),
		}
		if errNext == nil {
			result.NextQuiz = &next
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	t.metrics.QuizAnswerTotal.WithLabelValues(strconv.FormatBool(result.IsCorrect)).Inc()
	return &result, nil
}
