package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func TestCacheFirstStrategy_StaysOnCurrentAccount(t *testing.T) {
	s := NewCacheFirstStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: true},
		{Email: "b@example.com", Enabled: true},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{CurrentIndex: 0})
	assert.Equal(t, "a@example.com", result.Account.Email)
	assert.Equal(t, 0, result.Index)
}

func TestCacheFirstStrategy_FailsOverWhenCurrentDisabled(t *testing.T) {
	s := NewCacheFirstStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: false},
		{Email: "b@example.com", Enabled: true},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{CurrentIndex: 0})
	assert.Equal(t, "b@example.com", result.Account.Email)
}

func TestCacheFirstStrategy_NoUsableAccountsReturnsNil(t *testing.T) {
	s := NewCacheFirstStrategy(nil)
	accounts := []*store.Account{
		{Email: "a@example.com", Enabled: false},
		{Email: "b@example.com", IsInvalid: true, Enabled: true},
	}

	result := s.SelectAccount(accounts, "", SelectOptions{CurrentIndex: 0})
	assert.Nil(t, result.Account)
}
