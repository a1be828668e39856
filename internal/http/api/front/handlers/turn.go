package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/compactor"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/lock"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TurnHandler runs conversation turns: admission, history compaction, the
// provider call, and the usage debit.
type TurnHandler struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	compactor *compactor.Compactor
	generator provider.TextGenerator
	locker    lock.ConversationLocker
	model     string // Default conversation model.
}

// NewTurnHandler constructs a TurnHandler.
func NewTurnHandler(db *gorm.DB, l *ledger.Ledger, comp *compactor.Compactor, gen provider.TextGenerator, locker lock.ConversationLocker, defaultModel string) *TurnHandler {
	return &TurnHandler{
		db:        db,
		ledger:    l,
		compactor: comp,
		generator: gen,
		locker:    locker,
		model:     defaultModel,
	}
}

// turnRequest defines the request body for a conversation turn.
type turnRequest struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

// systemInstructions are the per-mode conversation instructions.
var systemInstructions = map[string]string{
	models.ModeExplanation: "You are a programming tutor. Explain concepts step by step and check the learner's understanding.",
	models.ModeGeneration:  "You are a pair programmer. Produce working code in fenced blocks and explain the key decisions briefly.",
	models.ModeBrainstorm:  "You help plan software projects. Keep track of decisions about the target persona and tech stack.",
}

// Prepare returns the provider-bound message list after compaction without
// running the main model. The response reports the would-be admission
// decision alongside; nothing is debited.
func (h *TurnHandler) Prepare(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	conversation, errLoad := loadOwnedConversation(c, h.db, user)
	if errLoad != nil {
		respondError(c, errLoad)
		return
	}
	ent, errResolve := resolveEntitlement(c.Request.Context(), h.db, h.ledger, user)
	if errResolve != nil {
		respondError(c, errResolve)
		return
	}

	history, errHistory := h.loadHistory(c.Request.Context(), conversation.ID)
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}

	result, wasCompacted := h.compactWithFallback(c.Request.Context(), conversation, history)
	if result.NewSummary != nil {
		h.persistSummary(c.Request.Context(), conversation, result.NewSummary)
		h.recordCompactionUsage(c.Request.Context(), user, conversation, result)
	}

	out := gin.H{
		"messagesForApi": result.MessagesForAPI,
		"wasCompacted":   wasCompacted,
		"admission":      ent.Decision,
	}
	if result.NewSummary != nil {
		out["newSummary"] = gin.H{
			"content":                result.NewSummary.Content,
			"summarizedMessageCount": result.NewSummary.SummarizedMessageCount,
			"summaryTokens":          result.NewSummary.SummaryTokens,
		}
	}
	c.JSON(http.StatusOK, out)
}

// Complete runs a full conversation turn. The debit is applied before the
// provider call; a failed generation is compensated with an exact reversal.
func (h *TurnHandler) Complete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	conversation, errLoad := loadOwnedConversation(c, h.db, user)
	if errLoad != nil {
		respondError(c, errLoad)
		return
	}

	var body turnRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	content := strings.TrimSpace(body.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing content"})
		return
	}
	model := strings.TrimSpace(body.Model)
	if model == "" {
		model = h.model
	}

	ent, errResolve := resolveEntitlement(c.Request.Context(), h.db, h.ledger, user)
	if errResolve != nil {
		respondError(c, errResolve)
		return
	}
	if !ent.Decision.Allowed {
		// Denial is a decision, not an error.
		c.JSON(http.StatusOK, gin.H{"accepted": false, "admission": ent.Decision})
		return
	}
	rate := ent.Context.Plan.Rate(model)
	if rate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model not available on this plan"})
		return
	}
	if rate > ent.Decision.TotalPointsRemaining {
		c.JSON(http.StatusOK, gin.H{"accepted": false, "admission": ent.Decision})
		return
	}

	userMessage := models.Message{
		ConversationID: conversation.ID,
		Role:           models.RoleUser,
		Content:        content,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&userMessage).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store message failed"})
		return
	}

	history, errHistory := h.loadHistory(c.Request.Context(), conversation.ID)
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	compacted, wasCompacted := h.compactWithFallback(c.Request.Context(), conversation, history)

	debit := ledger.Debit{
		UserID:        user.ID,
		MonthlyPoints: ent.Context.MonthlyPoints,
		Points:        rate,
		Category:      models.UsageCategoryConversation,
		Usage: &models.Usage{
			RequestID:      newPublicID("req"),
			UserID:         user.ID,
			OrganizationID: user.OrganizationID,
			ConversationID: &conversation.ID,
			Model:          model,
			RequestedAt:    time.Now().UTC(),
		},
	}
	if ent.Context.IsOrganization {
		debit.OrganizationID = user.OrganizationID
	}
	if ent.Allocation != nil && ent.Allocation.ID != 0 {
		debit.AllocationID = &ent.Allocation.ID
	}
	applied, errDebit := h.ledger.DebitUsage(c.Request.Context(), debit)
	if errDebit != nil {
		respondError(c, errDebit)
		return
	}

	result, errGenerate := h.generator.Generate(c.Request.Context(), provider.Request{
		Model:     model,
		System:    systemInstructions[conversation.Mode],
		Messages:  compacted.MessagesForAPI,
		MaxTokens: 2048,
	})
	if errGenerate != nil {
		if errCompensate := h.ledger.Compensate(c.Request.Context(), debit, applied); errCompensate != nil {
			log.WithError(errCompensate).Error("turn: compensation failed after generation error")
		}
		respondError(c, errGenerate)
		return
	}

	assistantMessage := models.Message{
		ConversationID: conversation.ID,
		Role:           models.RoleAssistant,
		Content:        result.Text,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&assistantMessage).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store message failed"})
		return
	}
	if errTokens := h.db.WithContext(c.Request.Context()).Model(&models.Usage{}).
		Where("id = ?", applied.UsageID).
		Updates(map[string]any{
			"input_tokens":  result.InputTokens,
			"output_tokens": result.OutputTokens,
			"total_tokens":  result.InputTokens + result.OutputTokens,
		}).Error; errTokens != nil {
		log.WithError(errTokens).Warn("turn: usage token update failed")
	}

	if compacted.NewSummary != nil {
		h.persistSummary(c.Request.Context(), conversation, compacted.NewSummary)
		h.recordCompactionUsage(c.Request.Context(), user, conversation, compacted)
	}

	out := gin.H{
		"accepted": true,
		"message": gin.H{
			"id":      assistantMessage.ID,
			"role":    assistantMessage.Role,
			"content": assistantMessage.Content,
		},
		"usage": gin.H{
			"points":       rate,
			"chargedTo":    applied.ChargedTo,
			"inputTokens":  result.InputTokens,
			"outputTokens": result.OutputTokens,
		},
		"wasCompacted": wasCompacted,
	}
	if conversation.Mode == models.ModeGeneration {
		if artifact := h.extractArtifact(c.Request.Context(), conversation, &assistantMessage); artifact != nil {
			out["artifact"] = gin.H{
				"id":       artifact.PublicID,
				"language": artifact.Language,
				"unlocked": artifact.IsUnlocked(),
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

// loadHistory returns the conversation's messages as provider messages.
func (h *TurnHandler) loadHistory(ctx context.Context, conversationID uint64) ([]provider.Message, error) {
	var rows []models.Message
	if errFind := h.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	out := make([]provider.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// compactWithFallback compacts the history under the per-conversation lock.
// Any failure falls back to the uncompacted full list; history is never
// silently dropped.
func (h *TurnHandler) compactWithFallback(ctx context.Context, conversation *models.Conversation, history []provider.Message) (compactor.Result, bool) {
	full := compactor.Result{MessagesForAPI: history}

	var existing *compactor.Summary
	if conversation.HasSummary() {
		existing = &compactor.Summary{
			Content:                    conversation.SummaryContent,
			LastSummarizedMessageIndex: conversation.LastSummarizedMessageIndex(),
			SummarizedMessageCount:     conversation.SummarizedMessageCount,
			SummaryTokens:              conversation.SummaryTokens,
		}
		if conversation.SummaryGeneratedAt != nil {
			existing.GeneratedAt = *conversation.SummaryGeneratedAt
		}
	}

	unlock, errLock := h.locker.Lock(ctx, conversation.ID)
	if errLock != nil {
		log.WithError(errLock).Warn("turn: compaction lock unavailable, sending full history")
		return full, false
	}
	defer unlock()

	result, errCompact := h.compactor.Compact(ctx, conversation.Mode, history, existing)
	if errCompact != nil {
		log.WithError(errCompact).Warn("turn: compaction failed, sending full history")
		return full, false
	}
	return result, result.WasCompacted
}

// persistSummary stores a freshly generated compact summary. The folded
// message count never decreases.
func (h *TurnHandler) persistSummary(ctx context.Context, conversation *models.Conversation, summary *compactor.Summary) {
	errUpdate := h.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND summarized_message_count <= ?", conversation.ID, summary.SummarizedMessageCount).
		Updates(map[string]any{
			"summary_content":          summary.Content,
			"summary_generated_at":     summary.GeneratedAt,
			"summarized_message_count": summary.SummarizedMessageCount,
			"summary_tokens":           summary.SummaryTokens,
		}).Error
	if errUpdate != nil {
		log.WithError(errUpdate).Warn("turn: summary persist failed")
	}
}

// recordCompactionUsage stores a metering row for a summary generation.
// Compaction debits no points; the row feeds the per-category usage breakdown.
func (h *TurnHandler) recordCompactionUsage(ctx context.Context, user *models.User, conversation *models.Conversation, result compactor.Result) {
	row := models.Usage{
		RequestID:      newPublicID("req"),
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		ConversationID: &conversation.ID,
		Model:          h.compactor.Model(),
		Category:       models.UsageCategoryCompaction,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		TotalTokens:    result.InputTokens + result.OutputTokens,
		ChargedTo:      models.ChargedToNone,
		RequestedAt:    time.Now().UTC(),
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("turn: compaction usage record failed")
	}
}

// codeFenceRe matches the first fenced code block with an optional language tag.
var codeFenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+#-]*)\\n(.+?)```")

// extractArtifact stores the first fenced code block of an assistant reply as
// a quiz-gated artifact. Short snippets are not worth gating.
func (h *TurnHandler) extractArtifact(ctx context.Context, conversation *models.Conversation, message *models.Message) *models.Artifact {
	match := codeFenceRe.FindStringSubmatch(message.Content)
	if match == nil || len(strings.TrimSpace(match[2])) < 80 {
		return nil
	}
	artifact := models.Artifact{
		PublicID:       newPublicID("art"),
		ConversationID: conversation.ID,
		MessageID:      &message.ID,
		Language:       strings.ToLower(match[1]),
		Content:        strings.TrimSpace(match[2]),
	}
	if errCreate := h.db.WithContext(ctx).Create(&artifact).Error; errCreate != nil {
		log.WithError(errCreate).Warn("turn: artifact create failed")
		return nil
	}
	return &artifact
}
