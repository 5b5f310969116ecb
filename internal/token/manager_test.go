package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	accountStore := store.NewAccountStore(nil, mem)
	cfg := config.DefaultConfig()
	return NewManager(accountStore, cfg)
}

func TestManager_SelectAccountBeforeInitializeFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SelectAccount(context.Background(), "gemini-2.5-pro", SelectOptions{})
	assert.Equal(t, ErrNotInitialized, err)
}

func TestManager_InitializeWithNoAccounts(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background(), ""))
	assert.Equal(t, 0, m.GetAccountCount())

	_, err := m.SelectAccount(context.Background(), "gemini-2.5-pro", SelectOptions{})
	var noAccounts *NoAccountsError
	require.ErrorAs(t, err, &noAccounts)
}

func TestManager_SelectAccountReturnsConfiguredAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	acc := &store.Account{Email: "a@example.com", Source: "manual", Enabled: true}
	require.NoError(t, m.AddOrUpdateAccount(ctx, acc))
	require.NoError(t, m.Initialize(ctx, config.SchedulingBalance))

	result, err := m.SelectAccount(ctx, "gemini-2.5-pro", SelectOptions{})
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Equal(t, "a@example.com", result.Account.Email)
}

func TestManager_MarkRateLimitedEscalatesAcrossRepeats(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	acc := &store.Account{Email: "a@example.com", Enabled: true}
	require.NoError(t, m.AddOrUpdateAccount(ctx, acc))
	require.NoError(t, m.Initialize(ctx, config.SchedulingBalance))

	require.NoError(t, m.MarkRateLimited(ctx, acc, "gemini-2.5-pro", 0))
	first := m.penalty.CurrentTier(acc.Email)
	require.NoError(t, m.MarkRateLimited(ctx, acc, "gemini-2.5-pro", 0))
	second := m.penalty.CurrentTier(acc.Email)

	assert.Greater(t, second, first)
	assert.True(t, m.IsAllRateLimited("gemini-2.5-pro"))
}

func TestManager_NotifySuccessDecaysPenalty(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	acc := &store.Account{Email: "a@example.com", Enabled: true}
	require.NoError(t, m.AddOrUpdateAccount(ctx, acc))
	require.NoError(t, m.Initialize(ctx, config.SchedulingBalance))

	require.NoError(t, m.MarkRateLimited(ctx, acc, "gemini-2.5-pro", 0))
	assert.Equal(t, 1, m.penalty.CurrentTier(acc.Email))

	m.NotifySuccess(acc, "gemini-2.5-pro")
	assert.Equal(t, 0, m.penalty.CurrentTier(acc.Email))
}

func TestManager_RemoveAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	acc := &store.Account{Email: "a@example.com", Enabled: true}
	require.NoError(t, m.AddOrUpdateAccount(ctx, acc))
	require.NoError(t, m.Initialize(ctx, config.SchedulingBalance))

	require.NoError(t, m.RemoveAccount(ctx, "a@example.com"))
	assert.Equal(t, 0, m.GetAccountCount())
}

func TestManager_GetStatusCountsAvailableAndInvalid(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.AddOrUpdateAccount(ctx, &store.Account{Email: "a@example.com", Enabled: true}))
	require.NoError(t, m.AddOrUpdateAccount(ctx, &store.Account{Email: "b@example.com", Enabled: false}))
	require.NoError(t, m.Initialize(ctx, config.SchedulingBalance))

	status := m.GetStatus()
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Available)
	assert.Equal(t, 1, status.Invalid)
}
