package strategies

import (
	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// SelectOptions carries request-scoped hints into account selection.
type SelectOptions struct {
	CurrentIndex int
	SessionID    string
	// SelectedEmail pins selection to one account, used by the Selected
	// scheduling mode; ignored by the other modes.
	SelectedEmail string
	OnSave        func()
}

// SelectionResult is the outcome of an account selection attempt.
type SelectionResult struct {
	Account *store.Account
	Index   int
	WaitMs  int64
}

// Strategy is an account scheduling mode.
type Strategy interface {
	SelectAccount(accounts []*store.Account, modelID string, options SelectOptions) *SelectionResult
	OnSuccess(account *store.Account, modelID string)
	OnRateLimit(account *store.Account, modelID string)
	OnFailure(account *store.Account, modelID string)
}

// HealthTracker exposes the subset of trackers.HealthTracker the manager's
// status/inspection endpoints need, without importing the trackers package
// directly.
type HealthTracker interface {
	GetScore(email string) float64
	GetHealthScore(email string) float64
	GetMinUsable() float64
	GetMaxScore() float64
	GetConsecutiveFailures(email string) int
	IsUsable(email string) bool
	RecordSuccess(email string)
	RecordRateLimit(email string)
	RecordFailure(email string)
	Reset(email string)
	Clear()
}

// Config holds the tunables every scheduling mode reads from.
type Config struct {
	HealthScore config.HealthScoreConfig
	TokenBucket config.TokenBucketConfig
	Quota       config.QuotaConfig
	Weights     *WeightConfig
}

type WeightConfig struct {
	Health float64
	Tokens float64
	Quota  float64
	LRU    float64
}

func DefaultWeights() *WeightConfig {
	return &WeightConfig{Health: 2.0, Tokens: 5.0, Quota: 3.0, LRU: 0.1}
}

// NewStrategy builds the Strategy for a scheduling mode.
func NewStrategy(mode config.SchedulingMode, cfg *Config, accounts *store.AccountStore) Strategy {
	if mode == "" {
		mode = config.DefaultSchedulingMode
	}

	switch mode {
	case config.SchedulingCacheFirst:
		utils.Debug("[Strategy] Creating CacheFirst strategy")
		return NewCacheFirstStrategy(accounts)

	case config.SchedulingBalance:
		utils.Debug("[Strategy] Creating Balance strategy")
		return NewBalanceStrategy(accounts)

	case config.SchedulingPerformanceFirst:
		utils.Debug("[Strategy] Creating PerformanceFirst strategy")
		return NewPerformanceFirstStrategy(cfg, accounts)

	case config.SchedulingSelected:
		utils.Debug("[Strategy] Creating Selected strategy")
		return NewSelectedStrategy(accounts)

	default:
		utils.Warn("[Strategy] Unknown scheduling mode %q, falling back to %s", mode, config.DefaultSchedulingMode)
		return NewBalanceStrategy(accounts)
	}
}

func IsValidMode(mode config.SchedulingMode) bool {
	for _, m := range config.SchedulingModes {
		if m == mode {
			return true
		}
	}
	return false
}

func GetModeLabel(mode config.SchedulingMode) string {
	if mode == "" {
		mode = config.DefaultSchedulingMode
	}
	if label, ok := config.SchedulingModeLabels[mode]; ok {
		return label
	}
	return config.SchedulingModeLabels[config.DefaultSchedulingMode]
}
