package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/security"
	"github.com/learnloop-ai/LearnLoopServer/internal/usage"
	"gorm.io/gorm"
)

// OrgHandler serves organization administration endpoints. Every operation
// requires an owner or admin role.
type OrgHandler struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	reporter *usage.Reporter
}

// NewOrgHandler constructs an OrgHandler.
func NewOrgHandler(db *gorm.DB, l *ledger.Ledger, reporter *usage.Reporter) *OrgHandler {
	return &OrgHandler{db: db, ledger: l, reporter: reporter}
}

// requireAdmin returns the acting admin user, or writes a rejection.
func (h *OrgHandler) requireAdmin(c *gin.Context) (*models.User, bool) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	if !user.IsOrgAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "organization admin role required"})
		return nil, false
	}
	return user, true
}

// Members lists the organization's members with their current-period
// allocations. This is a lookup view; it never auto-creates allocation rows.
func (h *OrgHandler) Members(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	var members []models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", *admin.OrganizationID).
		Order("id ASC").
		Find(&members).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	now := time.Now()
	out := make([]gin.H, 0, len(members))
	for i := range members {
		m := &members[i]
		entry := gin.H{
			"id":       m.ID,
			"username": m.Username,
			"name":     m.Name,
			"role":     m.OrgRole,
			"disabled": m.Disabled,
		}
		allocation, errFind := h.ledger.FindAllocation(c.Request.Context(), *admin.OrganizationID, m.ID, now)
		if errFind != nil {
			respondError(c, errFind)
			return
		}
		if allocation != nil {
			entry["allocation"] = gin.H{
				"allocatedPoints": allocation.AllocatedPoints,
				"usedPoints":      allocation.UsedPoints,
				"remaining":       ledger.AllocationRemaining(allocation),
				"note":            allocation.Note,
			}
		} else {
			entry["allocation"] = nil
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

// setAllocationRequest defines the request body for an allocation override.
type setAllocationRequest struct {
	Points int64  `json:"points"`
	Note   string `json:"note"`
}

// SetAllocation overrides a member's current-period allocation grant.
func (h *OrgHandler) SetAllocation(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	memberID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	var body setAllocationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Points < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points must not be negative"})
		return
	}
	if !h.memberBelongsToOrg(c, memberID, *admin.OrganizationID) {
		return
	}

	note := strings.TrimSpace(body.Note)
	if note == "" {
		note = "set by " + admin.Username
	}
	allocation, errSet := h.ledger.SetAllocation(c.Request.Context(), *admin.OrganizationID, memberID, time.Now(), body.Points, note)
	if errSet != nil {
		respondError(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allocation": gin.H{
			"allocatedPoints": allocation.AllocatedPoints,
			"usedPoints":      allocation.UsedPoints,
			"remaining":       ledger.AllocationRemaining(allocation),
			"note":            allocation.Note,
		},
	})
}

// createAccessKeyRequest defines the request body for access-key creation.
type createAccessKeyRequest struct {
	PeriodPointLimit int64 `json:"periodPointLimit"`
}

// CreateAccessKey issues a member access key carrying a per-period point
// limit. The limit seeds the member's allocation at first use each period;
// changing the key later does not alter an already-created allocation.
func (h *OrgHandler) CreateAccessKey(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	memberID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	var body createAccessKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.PeriodPointLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must not be negative"})
		return
	}
	if !h.memberBelongsToOrg(c, memberID, *admin.OrganizationID) {
		return
	}

	key, errGenerate := security.GenerateAccessKey()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key failed"})
		return
	}
	row := models.AccessKey{
		OrganizationID:   *admin.OrganizationID,
		UserID:           memberID,
		Key:              key,
		PeriodPointLimit: body.PeriodPointLimit,
		IsEnabled:        true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create access key failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":               row.ID,
		"key":              row.Key,
		"periodPointLimit": row.PeriodPointLimit,
	})
}

// Usage returns the organization's current-period usage broken down by
// category and by member.
func (h *OrgHandler) Usage(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	from, to := ledger.MonthPeriod(time.Now())

	categories, errCategories := h.reporter.OrgCategoryStats(c.Request.Context(), *admin.OrganizationID, from, to)
	if errCategories != nil {
		respondError(c, errCategories)
		return
	}
	members, errMembers := h.reporter.OrgMemberStats(c.Request.Context(), *admin.OrganizationID, from, to)
	if errMembers != nil {
		respondError(c, errMembers)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"periodStart": from,
		"periodEnd":   to,
		"byCategory":  categories,
		"byMember":    members,
	})
}

// memberBelongsToOrg verifies the target user is in the admin's organization.
func (h *OrgHandler) memberBelongsToOrg(c *gin.Context, memberID, orgID uint64) bool {
	var member models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		First(&member, "id = ?", memberID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return false
	}
	if member.OrganizationID == nil || *member.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return false
	}
	return true
}
