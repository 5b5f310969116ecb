package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func TestPerformanceFirstStrategy_PrefersHealthierAccount(t *testing.T) {
	s := NewPerformanceFirstStrategy(&Config{
		HealthScore: config.HealthScoreConfig{Initial: 70, MinUsable: 50, MaxScore: 100},
		TokenBucket: config.TokenBucketConfig{MaxTokens: 50, InitialTokens: 50, TokensPerMinute: 6},
		Quota:       config.QuotaConfig{UnknownScore: 50},
	}, nil)

	accounts := []*store.Account{
		{Email: "healthy@example.com", Enabled: true},
		{Email: "unhealthy@example.com", Enabled: true},
	}

	s.health.RecordFailure("unhealthy@example.com")
	s.health.RecordFailure("unhealthy@example.com")
	s.health.RecordFailure("unhealthy@example.com")

	result := s.SelectAccount(accounts, "gemini-2.5-pro", SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, "healthy@example.com", result.Account.Email)
}

func TestPerformanceFirstStrategy_EmergencyFallbackWhenAllUnhealthy(t *testing.T) {
	s := NewPerformanceFirstStrategy(&Config{
		HealthScore: config.HealthScoreConfig{Initial: 70, MinUsable: 50, MaxScore: 100, FailurePenalty: -100},
		TokenBucket: config.TokenBucketConfig{MaxTokens: 50, InitialTokens: 50, TokensPerMinute: 6},
		Quota:       config.QuotaConfig{UnknownScore: 50},
	}, nil)

	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: true},
	}
	s.health.RecordFailure("a@example.com")

	result := s.SelectAccount(accounts, "gemini-2.5-pro", SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, "a@example.com", result.Account.Email)
}

func TestPerformanceFirstStrategy_NoAccountsReturnsNil(t *testing.T) {
	s := NewPerformanceFirstStrategy(nil, nil)
	result := s.SelectAccount(nil, "gemini-2.5-pro", SelectOptions{})
	assert.Nil(t, result.Account)
}
