package front

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/compactor"
	"github.com/learnloop-ai/LearnLoopServer/internal/config"
	"github.com/learnloop-ai/LearnLoopServer/internal/http/api/front/handlers"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/lock"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
	"github.com/learnloop-ai/LearnLoopServer/internal/quiz"
	"github.com/learnloop-ai/LearnLoopServer/internal/ratelimit"
	"github.com/learnloop-ai/LearnLoopServer/internal/security"
	"github.com/learnloop-ai/LearnLoopServer/internal/settings"
	"github.com/learnloop-ai/LearnLoopServer/internal/usage"
	"gorm.io/gorm"
)

// Deps carries the shared services the front routes are built on.
type Deps struct {
	DB        *gorm.DB
	Ledger    *ledger.Ledger
	Compactor *compactor.Compactor
	Generator provider.TextGenerator
	Quizzes   *quiz.Generator
	Tracker   *quiz.Tracker
	Reporter  *usage.Reporter
	Locker    lock.ConversationLocker
	Limiter   *ratelimit.Limiter
	JWT       config.JWTConfig
	Model     string // Default conversation model.
}

// RegisterFrontRoutes registers public and authenticated front-end routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	front.POST("/register", authHandler.Register)
	front.POST("/login", authHandler.Login)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.JWT))

	balanceHandler := handlers.NewBalanceHandler(deps.DB, deps.Ledger)
	authed.GET("/balance", balanceHandler.Get)

	creditHandler := handlers.NewCreditHandler(deps.DB, deps.Ledger)
	authed.POST("/credits/purchase", creditHandler.Purchase)

	conversationHandler := handlers.NewConversationHandler(deps.DB)
	authed.POST("/conversations", conversationHandler.Create)
	authed.GET("/conversations", conversationHandler.List)
	authed.GET("/conversations/:id", conversationHandler.Get)

	turnHandler := handlers.NewTurnHandler(deps.DB, deps.Ledger, deps.Compactor, deps.Generator, deps.Locker, deps.Model)
	authed.POST("/conversations/:id/turns/prepare", turnHandler.Prepare)
	authed.POST("/conversations/:id/turns", rateLimitMiddleware(deps.Limiter, "turn:"), turnHandler.Complete)

	quizHandler := handlers.NewQuizHandler(deps.DB, deps.Quizzes, deps.Tracker)
	authed.POST("/artifacts/:id/quizzes/generate", rateLimitMiddleware(deps.Limiter, "quizgen:"), quizHandler.Generate)
	authed.GET("/artifacts/:id/quizzes/next", quizHandler.Next)
	authed.POST("/quizzes/:id/answer", quizHandler.Answer)

	usageHandler := handlers.NewUsageHandler(deps.Reporter)
	authed.GET("/usage/stats", usageHandler.Stats)

	orgHandler := handlers.NewOrgHandler(deps.DB, deps.Ledger, deps.Reporter)
	authed.GET("/org/members", orgHandler.Members)
	authed.PUT("/org/members/:id/allocation", orgHandler.SetAllocation)
	authed.POST("/org/members/:id/access-keys", orgHandler.CreateAccessKey)
	authed.GET("/org/usage", orgHandler.Usage)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled || !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		handlers.SetCurrentUser(c, &user)
		c.Next()
	}
}

// rateLimitMiddleware throttles point-spending endpoints per user. DB-backed
// settings can override the configured per-minute limit at runtime.
func rateLimitMiddleware(limiter *ratelimit.Limiter, prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, ok := handlers.CurrentUserID(c)
		if !ok {
			c.Next()
			return
		}
		limit := settings.Int(settings.TurnRateLimitPerMinuteKey, limiter.Limit())
		if !limiter.AllowWithLimit(c.Request.Context(), prefix+strconv.FormatUint(userID, 10), limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
