package strategies

import (
	"context"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// CacheFirstStrategy keeps using the same account until it becomes
// unavailable, preserving prompt-cache continuity across requests. As soon
// as the current account is unusable (rate-limited, invalid, or disabled) it
// switches to the next usable account in pool order; it does not wait for
// the current account while another one is usable. Only when no account is
// usable does it return a WaitMs (with no account) for the current
// account's rate limit, if that is at most MaxWaitBeforeErrorMs.
type CacheFirstStrategy struct {
	*BaseStrategy
}

func NewCacheFirstStrategy(accounts *store.AccountStore) *CacheFirstStrategy {
	return &CacheFirstStrategy{BaseStrategy: NewBaseStrategy(accounts)}
}

func (s *CacheFirstStrategy) SelectAccount(accounts []*store.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: options.CurrentIndex, WaitMs: 0}
	}

	index := options.CurrentIndex
	if index >= len(accounts) || index < 0 {
		index = 0
	}

	current := accounts[index]
	ctx := context.Background()

	if s.IsAccountUsable(ctx, current, modelID) {
		current.LastUsed = time.Now().UnixMilli()
		if options.OnSave != nil {
			options.OnSave()
		}
		return &SelectionResult{Account: current, Index: index, WaitMs: 0}
	}

	usable := s.GetUsableAccounts(ctx, accounts, modelID)
	if len(usable) > 0 {
		if next, nextIndex := s.pickNext(ctx, accounts, index, modelID, options.OnSave); next != nil {
			utils.Info("[CacheFirst] Switched to new account (failover): %s", next.Email)
			return &SelectionResult{Account: next, Index: nextIndex, WaitMs: 0}
		}
	}

	if shouldWait, waitMs := s.shouldWaitForAccount(ctx, current, modelID); shouldWait {
		utils.Info("[CacheFirst] Waiting %s for sticky account: %s", utils.FormatDuration(waitMs), current.Email)
		return &SelectionResult{Account: nil, Index: index, WaitMs: waitMs}
	}

	next, nextIndex := s.pickNext(ctx, accounts, index, modelID, options.OnSave)
	return &SelectionResult{Account: next, Index: nextIndex, WaitMs: 0}
}

func (s *CacheFirstStrategy) pickNext(ctx context.Context, accounts []*store.Account, currentIndex int, modelID string, onSave func()) (*store.Account, int) {
	for i := 1; i <= len(accounts); i++ {
		idx := (currentIndex + i) % len(accounts)
		account := accounts[idx]

		if s.IsAccountUsable(ctx, account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			if onSave != nil {
				onSave()
			}
			utils.Info("[CacheFirst] Using account: %s (%d/%d)", account.Email, idx+1, len(accounts))
			return account, idx
		}
	}
	return nil, currentIndex
}

func (s *CacheFirstStrategy) shouldWaitForAccount(ctx context.Context, account *store.Account, modelID string) (bool, int64) {
	if account == nil || account.IsInvalid || !account.Enabled {
		return false, 0
	}

	var waitMs int64
	if modelID != "" {
		info, err := s.accounts.GetRateLimit(ctx, account.Email, modelID)
		if err == nil && info != nil && info.IsRateLimited && info.ResetTime > 0 {
			waitMs = info.ResetTime - time.Now().UnixMilli()
		}
	}

	if waitMs > 0 && waitMs <= config.MaxWaitBeforeErrorMs {
		return true, waitMs
	}
	return false, 0
}
