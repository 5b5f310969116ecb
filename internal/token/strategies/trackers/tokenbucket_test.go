package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

func TestTokenBucketTracker_ConsumeAndRefund(t *testing.T) {
	tr := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 5, InitialTokens: 5, TokensPerMinute: 1})

	assert.True(t, tr.HasTokens("a@example.com"))
	assert.True(t, tr.Consume("a@example.com"))
	assert.InDelta(t, 4.0, tr.GetTokens("a@example.com"), 0.01)

	tr.Refund("a@example.com")
	assert.Equal(t, 5.0, tr.GetTokens("a@example.com"))
}

func TestTokenBucketTracker_ExhaustedBucketBlocksConsume(t *testing.T) {
	tr := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 1, InitialTokens: 1, TokensPerMinute: 0})
	assert.True(t, tr.Consume("a@example.com"))
	assert.False(t, tr.HasTokens("a@example.com"))
	assert.False(t, tr.Consume("a@example.com"))
}

func TestTokenBucketTracker_RefundNeverExceedsMax(t *testing.T) {
	tr := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 5, InitialTokens: 5, TokensPerMinute: 1})
	tr.Refund("a@example.com")
	assert.Equal(t, 5.0, tr.GetTokens("a@example.com"))
}
