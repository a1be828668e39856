package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

// DB config keys and defaults.
const (
	// LowBalanceFactorKey controls the low-balance warning threshold as a
	// multiple of the cheapest model rate.
	LowBalanceFactorKey = "LOW_BALANCE_FACTOR"
	// QuizQuestionCountKey controls how many questions are generated per artifact.
	QuizQuestionCountKey = "QUIZ_QUESTION_COUNT"
	// TurnRateLimitPerMinuteKey overrides the configured turn rate limit.
	TurnRateLimitPerMinuteKey = "TURN_RATE_LIMIT_PER_MINUTE"
	// DefaultLowBalanceFactor is the fallback warning multiple.
	DefaultLowBalanceFactor = 3
	// DefaultQuizQuestionCount is the fallback question count.
	DefaultQuizQuestionCount = 3
)

// snapshot holds the in-memory values of DB-backed settings.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var global atomic.Value // stores snapshot

func init() {
	global.Store(snapshot{values: map[string]json.RawMessage{}})
}

// Store replaces the in-memory snapshot of DB-backed settings.
func Store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}
	global.Store(snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// UpdatedAt returns the last update timestamp of the snapshot.
func UpdatedAt() time.Time {
	return load().updatedAt
}

// Value returns a copy of the raw value for a key.
func Value(key string) (json.RawMessage, bool) {
	cfg := load()
	val, ok := cfg.values[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	copied := make([]byte, len(val))
	copy(copied, val)
	return copied, true
}

// Int returns a numeric setting, falling back when absent or malformed.
func Int(key string, fallback int) int {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal != nil {
		return fallback
	}
	return n
}

func load() snapshot {
	v, ok := global.Load().(snapshot)
	if !ok || v.values == nil {
		return snapshot{values: map[string]json.RawMessage{}}
	}
	return v
}

// Refresh reloads all settings rows and replaces the in-memory snapshot.
// Required at process startup; admin updates trigger it again.
func Refresh(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	var latest time.Time
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
		if row.UpdatedAt.UTC().After(latest) {
			latest = row.UpdatedAt.UTC()
		}
	}

	Store(latest, values)
	return nil
}
