package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func TestSelectedStrategy_PinsToRequestedAccount(t *testing.T) {
	s := NewSelectedStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: true},
		{Email: "b@example.com", Enabled: true},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{SelectedEmail: "b@example.com"})
	require.NotNil(t, result.Account)
	assert.Equal(t, "b@example.com", result.Account.Email)
}

func TestSelectedStrategy_FallsBackWhenPinnedAccountUnusable(t *testing.T) {
	s := NewSelectedStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: true},
		{Email: "b@example.com", Enabled: false},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{SelectedEmail: "b@example.com"})
	require.NotNil(t, result.Account)
	assert.Equal(t, "a@example.com", result.Account.Email)
}

func TestSelectedStrategy_NoPinUsesFirstUsable(t *testing.T) {
	s := NewSelectedStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: false},
		{Email: "b@example.com", Enabled: true},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, "b@example.com", result.Account.Email)
}

func TestSelectedStrategy_NoAccountsReturnsNil(t *testing.T) {
	s := NewSelectedStrategy(nil)
	result := s.SelectAccount(nil, "", SelectOptions{})
	assert.Nil(t, result.Account)
}
