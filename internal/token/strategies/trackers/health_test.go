package trackers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

func TestHealthTracker_DefaultsAndUsability(t *testing.T) {
	tr := NewHealthTracker(config.HealthScoreConfig{})
	assert.Equal(t, 70.0, tr.GetScore("new@example.com"))
	assert.True(t, tr.IsUsable("new@example.com"))
}

func TestHealthTracker_FailurePenaltyDropsBelowUsable(t *testing.T) {
	tr := NewHealthTracker(config.HealthScoreConfig{Initial: 70, FailurePenalty: -25, MinUsable: 50})
	tr.RecordFailure("a@example.com")
	assert.False(t, tr.IsUsable("a@example.com"))
	assert.Equal(t, 1, tr.GetConsecutiveFailures("a@example.com"))
}

func TestHealthTracker_SuccessResetsConsecutiveFailures(t *testing.T) {
	tr := NewHealthTracker(config.HealthScoreConfig{})
	tr.RecordFailure("a@example.com")
	tr.RecordFailure("a@example.com")
	tr.RecordSuccess("a@example.com")
	assert.Equal(t, 0, tr.GetConsecutiveFailures("a@example.com"))
}

func TestHealthTracker_ScoreNeverExceedsMax(t *testing.T) {
	tr := NewHealthTracker(config.HealthScoreConfig{Initial: 95, SuccessReward: 20, MaxScore: 100})
	tr.RecordSuccess("a@example.com")
	assert.Equal(t, 100.0, tr.GetScore("a@example.com"))
}

func TestHealthTracker_PassiveRecoveryOverTime(t *testing.T) {
	tr := NewHealthTracker(config.HealthScoreConfig{Initial: 70, FailurePenalty: -20, RecoveryPerHour: 10, MaxScore: 100})
	tr.RecordFailure("a@example.com")

	tr.mu.Lock()
	tr.scores["a@example.com"].LastUpdated = time.Now().Add(-2 * time.Hour)
	tr.mu.Unlock()

	assert.InDelta(t, 70.0, tr.GetScore("a@example.com"), 0.01)
}
