package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/quiz"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// QuizHandler serves quiz generation and answering for artifacts.
type QuizHandler struct {
	db        *gorm.DB
	generator *quiz.Generator
	tracker   *quiz.Tracker
}

// NewQuizHandler constructs a QuizHandler.
func NewQuizHandler(db *gorm.DB, generator *quiz.Generator, tracker *quiz.Tracker) *QuizHandler {
	return &QuizHandler{db: db, generator: generator, tracker: tracker}
}

// Generate creates (or returns previously created) quizzes for an artifact.
func (h *QuizHandler) Generate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	artifact, errLoad := h.loadOwnedArtifact(c, user)
	if errLoad != nil {
		respondError(c, errLoad)
		return
	}

	result, errGenerate := h.generator.GenerateForArtifact(c.Request.Context(), artifact.ID)
	if errGenerate != nil {
		respondError(c, errGenerate)
		return
	}
	if result.Generated {
		h.recordGenerationUsage(c.Request.Context(), user, artifact, result)
	}

	quizzes := make([]gin.H, 0, len(result.Quizzes))
	for i := range result.Quizzes {
		quizzes = append(quizzes, quizJSON(&result.Quizzes[i], false))
	}
	c.JSON(http.StatusOK, gin.H{
		"artifact": gin.H{
			"id":             result.Artifact.PublicID,
			"unlockLevel":    result.Artifact.UnlockLevel,
			"totalQuestions": result.Artifact.TotalQuestions,
			"unlocked":       result.Artifact.IsUnlocked(),
		},
		"quizzes": quizzes,
	})
}

// recordGenerationUsage stores a metering row for a quiz generation.
// Generation debits no points; the row feeds the per-category usage breakdown.
func (h *QuizHandler) recordGenerationUsage(ctx context.Context, user *models.User, artifact *models.Artifact, result *quiz.GenerateResult) {
	row := models.Usage{
		RequestID:      newPublicID("req"),
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		ConversationID: &artifact.ConversationID,
		Model:          result.Model,
		Category:       models.UsageCategoryQuiz,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		TotalTokens:    result.InputTokens + result.OutputTokens,
		ChargedTo:      models.ChargedToNone,
		RequestedAt:    time.Now().UTC(),
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("quiz: generation usage record failed")
	}
}

// Next returns the lowest-level pending quiz for an artifact, or null when
// every question is answered.
func (h *QuizHandler) Next(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	artifact, errLoad := h.loadOwnedArtifact(c, user)
	if errLoad != nil {
		respondError(c, errLoad)
		return
	}

	var next models.Quiz
	errFind := h.db.WithContext(c.Request.Context()).
		Where("artifact_id = ? AND status = ?", artifact.ID, models.QuizStatusPending).
		Order("level asc").
		First(&next).Error
	out := gin.H{
		"artifact": gin.H{
			"id":             artifact.PublicID,
			"unlockLevel":    artifact.UnlockLevel,
			"totalQuestions": artifact.TotalQuestions,
			"unlocked":       artifact.IsUnlocked(),
		},
		"quiz": nil,
	}
	switch {
	case errFind == nil:
		out["quiz"] = quizJSON(&next, false)
	case errors.Is(errFind, gorm.ErrRecordNotFound):
	default:
		respondError(c, apperrors.Internal(errFind))
		return
	}
	c.JSON(http.StatusOK, out)
}

// answerRequest defines the request body for an answer submission.
type answerRequest struct {
	Answer string `json:"answer"`
}

// Answer submits an answer label for one quiz.
func (h *QuizHandler) Answer(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	quizID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quiz id"})
		return
	}
	var body answerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if errOwn := h.checkQuizOwnership(c, quizID, user); errOwn != nil {
		respondError(c, errOwn)
		return
	}

	result, errSubmit := h.tracker.SubmitAnswer(c.Request.Context(), quizID, body.Answer)
	if errSubmit != nil {
		respondError(c, errSubmit)
		return
	}

	out := gin.H{
		"quiz":           quizJSON(result.Quiz, true),
		"isCorrect":      result.IsCorrect,
		"currentLevel":   result.CurrentLevel,
		"totalQuestions": result.TotalQuestions,
		"isUnlocked":     result.IsUnlocked,
	}
	if result.NextQuiz != nil {
		out["nextQuiz"] = quizJSON(result.NextQuiz, false)
	}
	c.JSON(http.StatusOK, out)
}

// loadOwnedArtifact loads the :id artifact and enforces conversation ownership.
func (h *QuizHandler) loadOwnedArtifact(c *gin.Context, user *models.User) (*models.Artifact, error) {
	publicID := strings.TrimSpace(c.Param("id"))
	if publicID == "" {
		return nil, apperrors.Validation("missing artifact id")
	}
	var artifact models.Artifact
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("public_id = ?", publicID).
		First(&artifact).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("artifact not found")
		}
		return nil, errFind
	}
	var conversation models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		First(&conversation, "id = ?", artifact.ConversationID).Error; errFind != nil {
		return nil, errFind
	}
	if conversation.UserID != user.ID {
		return nil, apperrors.Forbidden("artifact belongs to another user")
	}
	return &artifact, nil
}

// checkQuizOwnership verifies the quiz's artifact belongs to the user.
func (h *QuizHandler) checkQuizOwnership(c *gin.Context, quizID uint64, user *models.User) error {
	var row models.Quiz
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", quizID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("quiz not found")
		}
		return errFind
	}
	var artifact models.Artifact
	if errFind := h.db.WithContext(c.Request.Context()).
		First(&artifact, "id = ?", row.ArtifactID).Error; errFind != nil {
		return errFind
	}
	var conversation models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		First(&conversation, "id = ?", artifact.ConversationID).Error; errFind != nil {
		return errFind
	}
	if conversation.UserID != user.ID {
		return apperrors.Forbidden("quiz belongs to another user")
	}
	return nil
}

// quizJSON shapes a quiz for API responses. The correct label is only
// revealed once the quiz has been answered.
func quizJSON(q *models.Quiz, revealAnswer bool) gin.H {
	var options []models.QuizOption
	_ = json.Unmarshal(q.Options, &options)
	out := gin.H{
		"id":       q.ID,
		"level":    q.Level,
		"question": q.Question,
		"options":  options,
		"status":   q.Status,
	}
	if revealAnswer && q.Status == models.QuizStatusAnswered {
		out["correctLabel"] = q.CorrectLabel
		out["userAnswer"] = q.UserAnswer
		out["isCorrect"] = q.IsCorrect
	}
	return out
}
