package trackers

import (
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

// PenaltyTracker escalates cooldown duration across consecutive rate-limit
// or capacity errors for the same account, walking through a fixed tier
// list instead of a single fixed cooldown. A success resets the tier back
// to zero. This is distinct from HealthTracker's score decay: health score
// influences ranking among otherwise-usable accounts, while the penalty
// tracker decides how long an account is excluded outright.
type PenaltyTracker struct {
	mu    sync.Mutex
	tiers map[string]int // email -> current tier index
}

func NewPenaltyTracker() *PenaltyTracker {
	return &PenaltyTracker{tiers: make(map[string]int)}
}

// NextBackoff returns the cooldown duration for the next escalation of
// errorType against email, advancing that account's tier.
func (p *PenaltyTracker) NextBackoff(email, errorType string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	tierList := config.CapacityBackoffTiersMs
	if errorType == "QUOTA_EXHAUSTED" {
		tierList = config.QuotaExhaustedBackoffTiersMs
	}

	idx := p.tiers[email]
	if idx >= len(tierList) {
		idx = len(tierList) - 1
	}
	ms := tierList[idx]

	if p.tiers[email] < len(tierList)-1 {
		p.tiers[email]++
	}

	return time.Duration(ms) * time.Millisecond
}

// Decay resets an account's escalation tier after a successful request.
func (p *PenaltyTracker) Decay(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tiers, email)
}

func (p *PenaltyTracker) CurrentTier(email string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tiers[email]
}

func (p *PenaltyTracker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiers = make(map[string]int)
}
