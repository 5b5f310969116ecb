// Package trackers provides the per-account state trackers backing the
// performance-first scheduling mode: health score, quota, token bucket, and
// rate-limit penalty.
package trackers

import (
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

type HealthRecord struct {
	Score               float64
	LastUpdated         time.Time
	ConsecutiveFailures int
}

// HealthTracker tracks per-account health scores so the scheduler favors
// accounts with a recent track record of success. Scores decay on rate
// limits and failures and recover passively over time.
type HealthTracker struct {
	mu     sync.RWMutex
	scores map[string]*HealthRecord
	config config.HealthScoreConfig
}

func NewHealthTracker(cfg config.HealthScoreConfig) *HealthTracker {
	if cfg.Initial == 0 {
		cfg.Initial = 70
	}
	if cfg.SuccessReward == 0 {
		cfg.SuccessReward = 1
	}
	if cfg.RateLimitPenalty == 0 {
		cfg.RateLimitPenalty = -10
	}
	if cfg.FailurePenalty == 0 {
		cfg.FailurePenalty = -20
	}
	if cfg.RecoveryPerHour == 0 {
		cfg.RecoveryPerHour = 10
	}
	if cfg.MinUsable == 0 {
		cfg.MinUsable = 50
	}
	if cfg.MaxScore == 0 {
		cfg.MaxScore = 100
	}

	return &HealthTracker{scores: make(map[string]*HealthRecord), config: cfg}
}

func (t *HealthTracker) GetScore(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getScoreUnlocked(email)
}

func (t *HealthTracker) GetHealthScore(email string) float64 { return t.GetScore(email) }

func (t *HealthTracker) RecordSuccess(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newScore := t.getScoreUnlocked(email) + t.config.SuccessReward
	if newScore > t.config.MaxScore {
		newScore = t.config.MaxScore
	}
	t.scores[email] = &HealthRecord{Score: newScore, LastUpdated: time.Now()}
}

func (t *HealthTracker) RecordRateLimit(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penalize(email, t.config.RateLimitPenalty)
}

func (t *HealthTracker) RecordFailure(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penalize(email, t.config.FailurePenalty)
}

func (t *HealthTracker) penalize(email string, penalty float64) {
	record := t.scores[email]
	newScore := t.getScoreUnlocked(email) + penalty
	if newScore < 0 {
		newScore = 0
	}

	consecutive := 0
	if record != nil {
		consecutive = record.ConsecutiveFailures
	}

	t.scores[email] = &HealthRecord{
		Score:               newScore,
		LastUpdated:         time.Now(),
		ConsecutiveFailures: consecutive + 1,
	}
}

func (t *HealthTracker) IsUsable(email string) bool { return t.GetScore(email) >= t.config.MinUsable }
func (t *HealthTracker) GetMinUsable() float64      { return t.config.MinUsable }
func (t *HealthTracker) GetMaxScore() float64       { return t.config.MaxScore }

func (t *HealthTracker) Reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[email] = &HealthRecord{Score: t.config.Initial, LastUpdated: time.Now()}
}

func (t *HealthTracker) GetConsecutiveFailures(email string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if record, ok := t.scores[email]; ok {
		return record.ConsecutiveFailures
	}
	return 0
}

func (t *HealthTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores = make(map[string]*HealthRecord)
}

func (t *HealthTracker) getScoreUnlocked(email string) float64 {
	record, ok := t.scores[email]
	if !ok {
		return t.config.Initial
	}

	hoursElapsed := time.Since(record.LastUpdated).Hours()
	recovered := record.Score + hoursElapsed*t.config.RecoveryPerHour
	if recovered > t.config.MaxScore {
		return t.config.MaxScore
	}
	return recovered
}

func (t *HealthTracker) GetAllRecords() map[string]*HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*HealthRecord, len(t.scores))
	for email, record := range t.scores {
		result[email] = &HealthRecord{
			Score:               t.getScoreUnlocked(email),
			LastUpdated:         record.LastUpdated,
			ConsecutiveFailures: record.ConsecutiveFailures,
		}
	}
	return result
}
