// Package app wires configuration, storage, the provider client and the HTTP
// surface into a runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnloop-ai/LearnLoopServer/internal/compactor"
	"github.com/learnloop-ai/LearnLoopServer/internal/config"
	"github.com/learnloop-ai/LearnLoopServer/internal/db"
	"github.com/learnloop-ai/LearnLoopServer/internal/http/api/front"
	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/lock"
	"github.com/learnloop-ai/LearnLoopServer/internal/logging"
	"github.com/learnloop-ai/LearnLoopServer/internal/maintenance"
	"github.com/learnloop-ai/LearnLoopServer/internal/plan"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
	"github.com/learnloop-ai/LearnLoopServer/internal/quiz"
	"github.com/learnloop-ai/LearnLoopServer/internal/ratelimit"
	"github.com/learnloop-ai/LearnLoopServer/internal/settings"
	"github.com/learnloop-ai/LearnLoopServer/internal/usage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredislib "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Server holds everything needed to serve requests and shut down cleanly.
type Server struct {
	cfg       *config.Config
	db        *gorm.DB
	httpSrv   *http.Server
	scheduler *maintenance.Scheduler
}

// New builds the full dependency graph from configuration.
func New(cfg *config.Config) (*Server, error) {
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	if errRefresh := settings.Refresh(context.Background(), conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("app: initial settings refresh failed")
	}

	client, errClient := provider.NewOpenAIClient(cfg.Provider)
	if errClient != nil {
		return nil, errClient
	}

	model := strings.TrimSpace(cfg.Provider.Model)
	if model == "" {
		model = plan.ModelSwift
	}
	compactModel := strings.TrimSpace(cfg.Provider.CompactModel)
	if compactModel == "" {
		compactModel = plan.ModelSwift
	}
	quizModel := strings.TrimSpace(cfg.Provider.QuizModel)
	if quizModel == "" {
		quizModel = plan.ModelSwift
	}

	plans := plan.NewRegistry()
	creditLedger := ledger.New(conn, plans)

	var (
		locker        lock.ConversationLocker
		counter       ratelimit.Counter
		memoryCounter *ratelimit.MemoryCounter
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient := goredislib.NewClient(&goredislib.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if errPing := redisClient.Ping(context.Background()).Err(); errPing != nil {
			return nil, fmt.Errorf("app: redis ping: %w", errPing)
		}
		locker = lock.NewRedisLocker(redisClient)
		counter = ratelimit.NewRedisCounter(redisClient)
		log.WithField("addr", addr).Info("app: redis enabled")
	} else {
		memoryCounter = ratelimit.NewMemoryCounter()
		locker = lock.NoopLocker{}
		counter = memoryCounter
		log.Info("app: redis disabled, using in-process locking and rate limiting")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	front.RegisterFrontRoutes(router, front.Deps{
		DB:        conn,
		Ledger:    creditLedger,
		Compactor: compactor.New(client, compactModel),
		Generator: client,
		Quizzes:   quiz.NewGenerator(conn, client, quizModel),
		Tracker:   quiz.NewTracker(conn),
		Reporter:  usage.NewReporter(conn),
		Locker:    locker,
		Limiter:   ratelimit.NewLimiter(counter, cfg.RateLimit.PerMinute),
		JWT:       cfg.JWT,
		Model:     model,
	})

	return &Server{
		cfg:       cfg,
		db:        conn,
		httpSrv:   &http.Server{Addr: cfg.Server.Addr, Handler: router},
		scheduler: maintenance.NewScheduler(conn, creditLedger, memoryCounter),
	}, nil
}

// Run starts the maintenance scheduler and serves HTTP until the context is
// cancelled, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	if errStart := s.scheduler.Start(); errStart != nil {
		return fmt.Errorf("app: start scheduler: %w", errStart)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.cfg.Server.Addr).Info("app: listening")
		if errServe := s.httpSrv.ListenAndServe(); errServe != nil && errServe != http.ErrServerClosed {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		s.scheduler.Stop()
		return fmt.Errorf("app: serve: %w", errServe)
	case <-ctx.Done():
	}

	log.Info("app: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errShutdown := s.httpSrv.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("app: http shutdown failed")
	}
	s.scheduler.Stop()
	return nil
}
