package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func TestBalanceStrategy_RotatesThroughAccounts(t *testing.T) {
	s := NewBalanceStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: true},
		{Email: "b@example.com", Enabled: true},
		{Email: "c@example.com", Enabled: true},
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		result := s.SelectAccount(accounts, "", SelectOptions{})
		seen[result.Account.Email] = true
	}

	assert.Len(t, seen, 3)
}

func TestBalanceStrategy_SkipsDisabledAccounts(t *testing.T) {
	s := NewBalanceStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: false},
		{Email: "b@example.com", Enabled: true},
	}

	for i := 0; i < 3; i++ {
		result := s.SelectAccount(accounts, "", SelectOptions{})
		assert.Equal(t, "b@example.com", result.Account.Email)
	}
}
