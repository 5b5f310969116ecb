package strategies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/token/strategies/trackers"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// FallbackLevel records how far PerformanceFirst had to relax its filters
// to find a candidate.
type FallbackLevel string

const (
	FallbackNormal     FallbackLevel = "normal"
	FallbackQuota      FallbackLevel = "quota"
	FallbackEmergency  FallbackLevel = "emergency"
	FallbackLastResort FallbackLevel = "lastResort"
)

// PerformanceFirstStrategy ranks candidates by a combined health, token
// bucket, quota, and least-recently-used score, relaxing filters in stages
// when no account passes the full set.
//
// score = (health x Health) + (tokenRatio*100 x Tokens) + (quotaScore x Quota) + (lruSeconds x LRU)
type PerformanceFirstStrategy struct {
	*BaseStrategy
	health          *trackers.HealthTracker
	tokenBucket     *trackers.TokenBucketTracker
	quota           *trackers.QuotaTracker
	weights         *WeightConfig
	globalThreshold *float64
}

func NewPerformanceFirstStrategy(cfg *Config, accounts *store.AccountStore) *PerformanceFirstStrategy {
	weights := DefaultWeights()
	if cfg != nil && cfg.Weights != nil {
		weights = cfg.Weights
	}

	var healthCfg config.HealthScoreConfig
	var tokenCfg config.TokenBucketConfig
	var quotaCfg config.QuotaConfig
	if cfg != nil {
		healthCfg = cfg.HealthScore
		tokenCfg = cfg.TokenBucket
		quotaCfg = cfg.Quota
	}

	return &PerformanceFirstStrategy{
		BaseStrategy: NewBaseStrategy(accounts),
		health:       trackers.NewHealthTracker(healthCfg),
		tokenBucket:  trackers.NewTokenBucketTracker(tokenCfg),
		quota:        trackers.NewQuotaTracker(quotaCfg),
		weights:      weights,
	}
}

func (s *PerformanceFirstStrategy) SetGlobalThreshold(threshold *float64) {
	s.globalThreshold = threshold
}

func (s *PerformanceFirstStrategy) SelectAccount(accounts []*store.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
	}

	ctx := context.Background()
	candidates, fallback := s.getCandidates(ctx, accounts, modelID)

	if len(candidates) == 0 {
		reason, waitMs := s.diagnoseNoCandidates(ctx, accounts, modelID)
		utils.Warn("[PerformanceFirst] No candidates available: %s", reason)
		return &SelectionResult{Account: nil, Index: 0, WaitMs: waitMs}
	}

	type scored struct {
		account *store.Account
		index   int
		score   float64
	}

	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{account: c.Account, index: c.Index, score: s.calculateScore(c.Account, modelID)})
	}

	for i := 0; i < len(ranked)-1; i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[i].score {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}

	best := ranked[0]
	best.account.LastUsed = time.Now().UnixMilli()

	if fallback != FallbackLastResort {
		s.tokenBucket.Consume(best.account.Email)
	}

	if options.OnSave != nil {
		options.OnSave()
	}

	var waitMs int64
	switch fallback {
	case FallbackLastResort:
		waitMs = 500
	case FallbackEmergency:
		waitMs = 250
	}

	fallbackInfo := ""
	if fallback != FallbackNormal {
		fallbackInfo = fmt.Sprintf(", fallback: %s", fallback)
	}
	utils.Info("[PerformanceFirst] Using account: %s (%d/%d, score: %.1f%s)",
		best.account.Email, best.index+1, len(accounts), best.score, fallbackInfo)

	return &SelectionResult{Account: best.account, Index: best.index, WaitMs: waitMs}
}

func (s *PerformanceFirstStrategy) OnSuccess(account *store.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.health.RecordSuccess(account.Email)
	}
}

func (s *PerformanceFirstStrategy) OnRateLimit(account *store.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.health.RecordRateLimit(account.Email)
	}
}

func (s *PerformanceFirstStrategy) OnFailure(account *store.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.health.RecordFailure(account.Email)
		s.tokenBucket.Refund(account.Email)
	}
}

func (s *PerformanceFirstStrategy) getCandidates(ctx context.Context, accounts []*store.Account, modelID string) ([]AccountWithIndex, FallbackLevel) {
	candidates := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if !s.IsAccountUsable(ctx, account, modelID) {
			continue
		}
		if !s.health.IsUsable(account.Email) {
			continue
		}
		if !s.tokenBucket.HasTokens(account.Email) {
			continue
		}
		threshold := s.getEffectiveThreshold(account, modelID)
		if s.quota.IsQuotaCritical(account, modelID, threshold) {
			continue
		}
		candidates = append(candidates, AccountWithIndex{Account: account, Index: i})
	}
	if len(candidates) > 0 {
		return candidates, FallbackNormal
	}

	quotaFallback := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if !s.IsAccountUsable(ctx, account, modelID) || !s.health.IsUsable(account.Email) || !s.tokenBucket.HasTokens(account.Email) {
			continue
		}
		quotaFallback = append(quotaFallback, AccountWithIndex{Account: account, Index: i})
	}
	if len(quotaFallback) > 0 {
		utils.Warn("[PerformanceFirst] All accounts have critical quota, using fallback")
		return quotaFallback, FallbackQuota
	}

	emergency := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if !s.IsAccountUsable(ctx, account, modelID) || !s.tokenBucket.HasTokens(account.Email) {
			continue
		}
		emergency = append(emergency, AccountWithIndex{Account: account, Index: i})
	}
	if len(emergency) > 0 {
		utils.Warn("[PerformanceFirst] EMERGENCY: all accounts unhealthy, using least bad account")
		return emergency, FallbackEmergency
	}

	lastResort := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if !s.IsAccountUsable(ctx, account, modelID) {
			continue
		}
		lastResort = append(lastResort, AccountWithIndex{Account: account, Index: i})
	}
	if len(lastResort) > 0 {
		utils.Warn("[PerformanceFirst] LAST RESORT: all accounts exhausted, using any usable account")
		return lastResort, FallbackLastResort
	}

	return nil, FallbackNormal
}

func (s *PerformanceFirstStrategy) getEffectiveThreshold(account *store.Account, modelID string) *float64 {
	if account.ModelQuotaThresholds != nil {
		if threshold, ok := account.ModelQuotaThresholds[modelID]; ok {
			return &threshold
		}
	}
	if account.QuotaThreshold != nil {
		return account.QuotaThreshold
	}
	return s.globalThreshold
}

func (s *PerformanceFirstStrategy) calculateScore(account *store.Account, modelID string) float64 {
	email := account.Email

	healthComponent := s.health.GetScore(email) * s.weights.Health

	tokens := s.tokenBucket.GetTokens(email)
	tokenRatio := tokens / s.tokenBucket.GetMaxTokens()
	tokenComponent := (tokenRatio * 100) * s.weights.Tokens

	quotaComponent := s.quota.GetScore(account, modelID) * s.weights.Quota

	timeSinceLastUse := time.Now().UnixMilli() - account.LastUsed
	if timeSinceLastUse > 3600000 {
		timeSinceLastUse = 3600000
	}
	lruComponent := (float64(timeSinceLastUse) / 1000) * s.weights.LRU

	return healthComponent + tokenComponent + quotaComponent + lruComponent
}

func (s *PerformanceFirstStrategy) diagnoseNoCandidates(ctx context.Context, accounts []*store.Account, modelID string) (string, int64) {
	var unusable, unhealthy, noTokens, criticalQuota int
	withoutTokens := make([]string, 0)

	for _, account := range accounts {
		if !s.IsAccountUsable(ctx, account, modelID) {
			unusable++
			continue
		}
		if !s.health.IsUsable(account.Email) {
			unhealthy++
			continue
		}
		if !s.tokenBucket.HasTokens(account.Email) {
			noTokens++
			withoutTokens = append(withoutTokens, account.Email)
			continue
		}
		if s.quota.IsQuotaCritical(account, modelID, s.getEffectiveThreshold(account, modelID)) {
			criticalQuota++
		}
	}

	if noTokens > 0 && unusable == 0 && unhealthy == 0 {
		waitMs := s.tokenBucket.GetMinTimeUntilToken(withoutTokens)
		return fmt.Sprintf("all %d account(s) exhausted token bucket, waiting for refill", noTokens), waitMs
	}

	parts := make([]string, 0)
	if unusable > 0 {
		parts = append(parts, fmt.Sprintf("%d unusable/disabled", unusable))
	}
	if unhealthy > 0 {
		parts = append(parts, fmt.Sprintf("%d unhealthy", unhealthy))
	}
	if noTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d no tokens", noTokens))
	}
	if criticalQuota > 0 {
		parts = append(parts, fmt.Sprintf("%d critical quota", criticalQuota))
	}

	reason := "unknown"
	if len(parts) > 0 {
		reason = strings.Join(parts, ", ")
	}
	return reason, 0
}

func (s *PerformanceFirstStrategy) GetHealthTracker() HealthTracker { return s.health }
func (s *PerformanceFirstStrategy) GetTokenBucketTracker() *trackers.TokenBucketTracker {
	return s.tokenBucket
}
func (s *PerformanceFirstStrategy) GetQuotaTracker() *trackers.QuotaTracker { return s.quota }
