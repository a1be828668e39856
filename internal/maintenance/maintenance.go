// Package maintenance runs the periodic housekeeping jobs: monthly balance
// rollover, settings refresh and in-memory rate-limit bucket sweeps.
package maintenance

import (
	"context"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/ledger"
	"github.com/learnloop-ai/LearnLoopServer/internal/ratelimit"
	"github.com/learnloop-ai/LearnLoopServer/internal/settings"
	rcron "github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const jobTimeout = time.Minute

// Scheduler owns the cron loop. Jobs with a nil dependency are skipped, so a
// deployment without an in-memory counter simply never sweeps.
type Scheduler struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	counter *ratelimit.MemoryCounter
	cron    *rcron.Cron
}

// NewScheduler prepares a scheduler; counter may be nil when Redis backs the
// rate limiter.
func NewScheduler(db *gorm.DB, l *ledger.Ledger, counter *ratelimit.MemoryCounter) *Scheduler {
	return &Scheduler{db: db, ledger: l, counter: counter, cron: rcron.New()}
}

// Start registers the jobs and launches the cron loop. It runs the rollover
// once immediately so a restart never leaves expired periods in place.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.rollover); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 5m", s.refreshSettings); err != nil {
		return err
	}
	if s.counter != nil {
		if _, err := s.cron.AddFunc("@every 10m", s.counter.Sweep); err != nil {
			return err
		}
	}

	go s.rollover()
	s.cron.Start()
	log.Info("maintenance: scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("maintenance: scheduler stopped")
}

func (s *Scheduler) rollover() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	touched, errRollover := s.ledger.RolloverExpired(ctx, time.Now())
	if errRollover != nil {
		log.WithError(errRollover).Error("maintenance: balance rollover failed")
		return
	}
	if touched > 0 {
		log.WithField("balances", touched).Info("maintenance: monthly balances rolled over")
	}
}

func (s *Scheduler) refreshSettings() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if errRefresh := settings.Refresh(ctx, s.db); errRefresh != nil {
		log.WithError(errRefresh).Warn("maintenance: settings refresh failed")
	}
}
