package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	goredislib "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ConversationLocker serializes history compaction per conversation so
// concurrent turns do not regenerate the same summary redundantly.
type ConversationLocker interface {
	// Lock acquires the per-conversation lock and returns an unlock func.
	Lock(ctx context.Context, conversationID uint64) (func(), error)
}

// lockExpiry bounds how long a crashed holder can block other requests.
const lockExpiry = 30 * time.Second

// RedisLocker implements ConversationLocker on redsync so the exclusion
// holds across replicas.
type RedisLocker struct {
	rs      *redsync.Redsync
	metrics *metrics.Metrics
}

// NewRedisLocker constructs a ConversationLocker backed by Redis.
func NewRedisLocker(client *goredislib.Client) *RedisLocker {
	pool := goredis.NewPool(client)
	return &RedisLocker{rs: redsync.New(pool), metrics: metrics.Get()}
}

// Lock acquires the distributed per-conversation mutex.
func (l *RedisLocker) Lock(ctx context.Context, conversationID uint64) (func(), error) {
	mutex := l.rs.NewMutex(
		fmt.Sprintf("lock:conversation:%d", conversationID),
		redsync.WithExpiry(lockExpiry),
		redsync.WithTries(3),
	)
	if errLock := mutex.LockContext(ctx); errLock != nil {
		l.metrics.LockAcquireTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("lock: acquire conversation %d: %w", conversationID, errLock)
	}
	l.metrics.LockAcquireTotal.WithLabelValues("success").Inc()
	return func() {
		if _, errUnlock := mutex.UnlockContext(context.Background()); errUnlock != nil {
			log.WithError(errUnlock).WithField("conversation_id", conversationID).
				Warn("lock: release failed, expiry will reclaim it")
		}
	}, nil
}

// NoopLocker is used when Redis is not configured. Compaction then relies on
// the double-regeneration being wasteful but not corrupting.
type NoopLocker struct{}

// Lock always succeeds and releases nothing.
func (NoopLocker) Lock(context.Context, uint64) (func(), error) {
	return func() {}, nil
}
