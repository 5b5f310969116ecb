package strategies

import (
	"context"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// SelectedStrategy pins selection to a single caller-specified account
// (options.SelectedEmail), falling back to the first usable account in pool
// order when no pin was given or the pinned account is unusable. There is
// no teacher equivalent: the scheduling mode exists for callers that want
// to bypass automatic scheduling and address one account directly (e.g. an
// operator debugging a specific credential).
type SelectedStrategy struct {
	*BaseStrategy
}

func NewSelectedStrategy(accounts *store.AccountStore) *SelectedStrategy {
	return &SelectedStrategy{BaseStrategy: NewBaseStrategy(accounts)}
}

func (s *SelectedStrategy) SelectAccount(accounts []*store.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
	}

	ctx := context.Background()

	if options.SelectedEmail != "" {
		for i, account := range accounts {
			if account.Email != options.SelectedEmail {
				continue
			}
			if !s.IsAccountUsable(ctx, account, modelID) {
				utils.Warn("[Selected] Pinned account %s is unusable, falling back", options.SelectedEmail)
				break
			}
			account.LastUsed = time.Now().UnixMilli()
			if options.OnSave != nil {
				options.OnSave()
			}
			return &SelectionResult{Account: account, Index: i, WaitMs: 0}
		}
	}

	for i, account := range accounts {
		if s.IsAccountUsable(ctx, account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			if options.OnSave != nil {
				options.OnSave()
			}
			return &SelectionResult{Account: account, Index: i, WaitMs: 0}
		}
	}

	return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
}
