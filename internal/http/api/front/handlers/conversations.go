package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

// ConversationHandler manages chat sessions.
type ConversationHandler struct {
	db *gorm.DB
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{db: db}
}

// createConversationRequest defines the request body for conversation creation.
type createConversationRequest struct {
	Mode  string `json:"mode"`
	Title string `json:"title"`
}

// validModes lists the supported conversation modes.
var validModes = map[string]bool{
	models.ModeExplanation: true,
	models.ModeGeneration:  true,
	models.ModeBrainstorm:  true,
}

// Create starts a new conversation in one of the chat modes.
func (h *ConversationHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var body createConversationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	mode := strings.TrimSpace(body.Mode)
	if !validModes[mode] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be explanation, generation, or brainstorm"})
		return
	}

	conversation := models.Conversation{
		PublicID: newPublicID("conv"),
		UserID:   user.ID,
		Mode:     mode,
		Title:    strings.TrimSpace(body.Title),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&conversation).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create conversation failed"})
		return
	}
	c.JSON(http.StatusCreated, conversationJSON(&conversation))
}

// List returns the user's conversations, newest first.
func (h *ConversationHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var rows []models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("updated_at DESC").
		Limit(100).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, conversationJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// Get returns one conversation with its full message history.
func (h *ConversationHandler) Get(c *gin.Context) {
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

	var messages []models.Message
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("conversation_id = ?", conversation.ID).
		Order("id ASC").
		Find(&messages).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := conversationJSON(conversation)
	messageList := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		messageList = append(messageList, gin.H{
			"id":        m.ID,
			"role":      m.Role,
			"content":   m.Content,
			"createdAt": m.CreatedAt,
		})
	}
	out["messages"] = messageList
	c.JSON(http.StatusOK, out)
}

// conversationJSON shapes a conversation for API responses.
func conversationJSON(conversation *models.Conversation) gin.H {
	return gin.H{
		"id":         conversation.PublicID,
		"mode":       conversation.Mode,
		"title":      conversation.Title,
		"hasSummary": conversation.HasSummary(),
		"createdAt":  conversation.CreatedAt,
		"updatedAt":  conversation.UpdatedAt,
	}
}

// loadOwnedConversation loads the :id conversation and enforces ownership.
func loadOwnedConversation(c *gin.Context, db *gorm.DB, user *models.User) (*models.Conversation, error) {
	publicID := strings.TrimSpace(c.Param("id"))
	if publicID == "" {
		return nil, apperrors.Validation("missing conversation id")
	}
	var conversation models.Conversation
	if errFind := db.WithContext(c.Request.Context()).
		Where("public_id = ?", publicID).
		First(&conversation).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("conversation not found")
		}
		return nil, errFind
	}
	if conversation.UserID != user.ID {
		return nil, apperrors.Forbidden("conversation belongs to another user")
	}
	return &conversation, nil
}
