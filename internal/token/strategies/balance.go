package strategies

import (
	"context"
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// BalanceStrategy rotates to the next usable account on every request,
// maximizing concurrent throughput at the cost of prompt-cache continuity.
type BalanceStrategy struct {
	*BaseStrategy
	mu     sync.Mutex
	cursor int
}

func NewBalanceStrategy(accounts *store.AccountStore) *BalanceStrategy {
	return &BalanceStrategy{BaseStrategy: NewBaseStrategy(accounts)}
}

func (s *BalanceStrategy) SelectAccount(accounts []*store.Account, modelID string, options SelectOptions) *SelectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
	}

	if s.cursor >= len(accounts) {
		s.cursor = 0
	}

	startIndex := (s.cursor + 1) % len(accounts)
	ctx := context.Background()

	for i := 0; i < len(accounts); i++ {
		idx := (startIndex + i) % len(accounts)
		account := accounts[idx]

		if s.IsAccountUsable(ctx, account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			s.cursor = idx

			if options.OnSave != nil {
				options.OnSave()
			}

			utils.Info("[Balance] Using account: %s (%d/%d)", account.Email, idx+1, len(accounts))
			return &SelectionResult{Account: account, Index: idx, WaitMs: 0}
		}
	}

	return &SelectionResult{Account: nil, Index: s.cursor, WaitMs: 0}
}

func (s *BalanceStrategy) ResetCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}
