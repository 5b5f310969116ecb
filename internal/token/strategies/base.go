// Package strategies implements the account scheduling modes: CacheFirst,
// Balance, PerformanceFirst, and Selected.
package strategies

import (
	"context"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

// BaseStrategy provides filtering logic shared by every scheduling mode.
type BaseStrategy struct {
	accounts *store.AccountStore
}

func NewBaseStrategy(accounts *store.AccountStore) *BaseStrategy {
	return &BaseStrategy{accounts: accounts}
}

func (s *BaseStrategy) IsAccountUsable(ctx context.Context, account *store.Account, modelID string) bool {
	if account == nil || account.IsInvalid || !account.Enabled {
		return false
	}

	if s.IsAccountCoolingDown(account) {
		return false
	}

	if modelID != "" && s.accounts != nil {
		info, err := s.accounts.GetRateLimit(ctx, account.Email, modelID)
		if err == nil && info != nil && info.IsRateLimited {
			if info.ResetTime > 0 && time.Now().Before(time.UnixMilli(info.ResetTime)) {
				return false
			}
		}
	}

	return true
}

func (s *BaseStrategy) IsAccountCoolingDown(account *store.Account) bool {
	if account == nil || account.CoolingDownUntil == 0 {
		return false
	}

	if time.Now().After(time.UnixMilli(account.CoolingDownUntil)) {
		account.CoolingDownUntil = 0
		account.CooldownReason = ""
		return false
	}

	return true
}

func (s *BaseStrategy) GetUsableAccounts(ctx context.Context, accounts []*store.Account, modelID string) []AccountWithIndex {
	result := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if s.IsAccountUsable(ctx, account, modelID) {
			result = append(result, AccountWithIndex{Account: account, Index: i})
		}
	}
	return result
}

type AccountWithIndex struct {
	Account *store.Account
	Index   int
}

func (s *BaseStrategy) OnSuccess(account *store.Account, modelID string)   {}
func (s *BaseStrategy) OnRateLimit(account *store.Account, modelID string) {}
func (s *BaseStrategy) OnFailure(account *store.Account, modelID string)  {}
