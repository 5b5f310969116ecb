package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryOnlyStore(t *testing.T) *AccountStore {
	t.Helper()
	mem, err := NewMemoryCache()
	require.NoError(t, err)
	return NewAccountStore(nil, mem)
}

func TestAccountStore_MemoryFallback_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	account := &Account{
		Email:   "a@example.com",
		Source:  "manual",
		Enabled: true,
	}

	require.NoError(t, store.SetAccount(ctx, account))

	got, err := store.GetAccount(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.Email)
	assert.True(t, got.Enabled)

	require.NoError(t, store.DeleteAccount(ctx, "a@example.com"))
	got, err = store.GetAccount(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountStore_MemoryFallback_ListAccounts(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	require.NoError(t, store.SetAccount(ctx, &Account{Email: "a@example.com", Enabled: true}))
	require.NoError(t, store.SetAccount(ctx, &Account{Email: "b@example.com", Enabled: true}))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestAccountStore_MemoryFallback_RateLimit(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	info := &RateLimitInfo{IsRateLimited: true, ActualResetMs: 30000}
	require.NoError(t, store.SetRateLimit(ctx, "a@example.com", "gemini-2.5-pro", info))

	got, err := store.GetRateLimit(ctx, "a@example.com", "gemini-2.5-pro")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsRateLimited)

	require.NoError(t, store.ClearRateLimits(ctx, "a@example.com"))
	got, err = store.GetRateLimit(ctx, "a@example.com", "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountStore_MemoryFallback_Health(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	score := &HealthScore{Score: 85.5, ConsecutiveFailures: 1}
	require.NoError(t, store.SetHealth(ctx, "a@example.com", score))

	got, err := store.GetHealth(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 85.5, got.Score)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestAccountStore_MemoryFallback_TokenBucket(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	bucket := &TokenBucket{Tokens: 42}
	require.NoError(t, store.SetTokenBucket(ctx, "a@example.com", bucket))

	got, err := store.GetTokenBucket(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42.0, got.Tokens)
}

func TestAccountStore_MemoryFallback_Quotas(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOnlyStore(t)

	quota := &QuotaInfo{Models: map[string]*ModelQuotaInfo{
		"gemini-2.5-pro": {RemainingFraction: 0.4},
	}}
	require.NoError(t, store.SetQuotas(ctx, "a@example.com", quota))

	got, err := store.GetQuotas(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.4, got.Models["gemini-2.5-pro"].RemainingFraction)
}
