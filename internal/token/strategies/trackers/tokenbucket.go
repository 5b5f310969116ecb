package trackers

import (
	"math"
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

type bucketState struct {
	Tokens      float64
	LastUpdated time.Time
}

// TokenBucketTracker provides client-side rate limiting: each account has a
// bucket of tokens that regenerate over time, and requests consume one.
// Accounts without a token are deprioritized rather than hard-blocked.
type TokenBucketTracker struct {
	mu      sync.RWMutex
	buckets map[string]*bucketState
	config  config.TokenBucketConfig
}

func NewTokenBucketTracker(cfg config.TokenBucketConfig) *TokenBucketTracker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 50
	}
	if cfg.TokensPerMinute == 0 {
		cfg.TokensPerMinute = 6
	}
	if cfg.InitialTokens == 0 {
		cfg.InitialTokens = 50
	}
	return &TokenBucketTracker{buckets: make(map[string]*bucketState), config: cfg}
}

func (t *TokenBucketTracker) GetTokens(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getTokensUnlocked(email)
}

func (t *TokenBucketTracker) getTokensUnlocked(email string) float64 {
	bucket, ok := t.buckets[email]
	if !ok {
		return t.config.InitialTokens
	}

	minutesElapsed := time.Since(bucket.LastUpdated).Minutes()
	current := bucket.Tokens + minutesElapsed*t.config.TokensPerMinute
	if current > t.config.MaxTokens {
		return t.config.MaxTokens
	}
	return current
}

func (t *TokenBucketTracker) HasTokens(email string) bool { return t.GetTokens(email) >= 1 }

func (t *TokenBucketTracker) Consume(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.getTokensUnlocked(email)
	if current < 1 {
		return false
	}
	t.buckets[email] = &bucketState{Tokens: current - 1, LastUpdated: time.Now()}
	return true
}

func (t *TokenBucketTracker) Refund(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newTokens := t.getTokensUnlocked(email) + 1
	if newTokens > t.config.MaxTokens {
		newTokens = t.config.MaxTokens
	}
	t.buckets[email] = &bucketState{Tokens: newTokens, LastUpdated: time.Now()}
}

func (t *TokenBucketTracker) GetMaxTokens() float64 { return t.config.MaxTokens }

func (t *TokenBucketTracker) Reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[email] = &bucketState{Tokens: t.config.InitialTokens, LastUpdated: time.Now()}
}

func (t *TokenBucketTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[string]*bucketState)
}

func (t *TokenBucketTracker) GetTimeUntilNextToken(email string) int64 {
	current := t.GetTokens(email)
	if current >= 1 {
		return 0
	}
	needed := 1 - current
	minutesNeeded := needed / t.config.TokensPerMinute
	return int64(math.Ceil(minutesNeeded * 60 * 1000))
}

func (t *TokenBucketTracker) GetMinTimeUntilToken(emails []string) int64 {
	if len(emails) == 0 {
		return 0
	}

	minWait := int64(math.MaxInt64)
	for _, email := range emails {
		wait := t.GetTimeUntilNextToken(email)
		if wait == 0 {
			return 0
		}
		if wait < minWait {
			minWait = wait
		}
	}
	if minWait == int64(math.MaxInt64) {
		return 0
	}
	return minWait
}

func (t *TokenBucketTracker) GetAllBuckets() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]float64, len(t.buckets))
	for email := range t.buckets {
		result[email] = t.getTokensUnlocked(email)
	}
	return result
}
