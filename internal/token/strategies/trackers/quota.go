package trackers

import (
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

// QuotaTracker scores and filters accounts by their last-known remaining
// quota fraction for a model, discounting stale readings rather than
// trusting them indefinitely.
type QuotaTracker struct {
	config config.QuotaConfig
}

func NewQuotaTracker(cfg config.QuotaConfig) *QuotaTracker {
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 0.10
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = 0.05
	}
	if cfg.StaleMs == 0 {
		cfg.StaleMs = 300000
	}
	if cfg.UnknownScore == 0 {
		cfg.UnknownScore = 50
	}
	return &QuotaTracker{config: cfg}
}

func (t *QuotaTracker) GetQuotaFraction(account *store.Account, modelID string) float64 {
	if account == nil || account.Quota == nil || account.Quota.Models == nil {
		return -1
	}
	modelQuota, ok := account.Quota.Models[modelID]
	if !ok || modelQuota == nil {
		return -1
	}
	return modelQuota.RemainingFraction
}

func (t *QuotaTracker) IsQuotaFresh(account *store.Account) bool {
	if account == nil || account.Quota == nil || account.Quota.LastChecked == 0 {
		return false
	}
	lastChecked := time.UnixMilli(account.Quota.LastChecked)
	return time.Since(lastChecked) < time.Duration(t.config.StaleMs)*time.Millisecond
}

func (t *QuotaTracker) IsQuotaCritical(account *store.Account, modelID string, thresholdOverride *float64) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	if !t.IsQuotaFresh(account) {
		return false
	}

	threshold := t.config.CriticalThreshold
	if thresholdOverride != nil && *thresholdOverride > 0 {
		threshold = *thresholdOverride
	}
	return fraction <= threshold
}

func (t *QuotaTracker) IsQuotaLow(account *store.Account, modelID string) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	return fraction <= t.config.LowThreshold && fraction > t.config.CriticalThreshold
}

func (t *QuotaTracker) GetScore(account *store.Account, modelID string) float64 {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return t.config.UnknownScore
	}

	score := fraction * 100
	if !t.IsQuotaFresh(account) {
		score *= 0.9
	}
	return score
}

func (t *QuotaTracker) GetCriticalThreshold() float64 { return t.config.CriticalThreshold }
func (t *QuotaTracker) GetLowThreshold() float64      { return t.config.LowThreshold }
