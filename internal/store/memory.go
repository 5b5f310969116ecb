package store

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// MemoryCache is the in-process fallback tier used when Redis is
// unreachable. It backs the same key space as Client but has no cross-process
// visibility, so a restart or a second replica loses anything kept here.
type MemoryCache struct {
	cache *ristretto.Cache

	// ristretto doesn't expose "list all keys matching a prefix", which the
	// account index and rate-limit sweep both need, so track membership in a
	// plain map alongside the cache.
	mu   sync.RWMutex
	keys map[string]time.Time // key -> expiry (zero = no expiry)
}

// NewMemoryCache builds a bounded in-memory cache sized for a single-process
// account pool: a few hundred accounts plus their rate-limit/health/quota
// satellite records, not a general-purpose high-QPS cache.
func NewMemoryCache() (*MemoryCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24, // 16MiB
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: c, keys: make(map[string]time.Time)}, nil
}

func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl > 0 {
		m.cache.SetWithTTL(key, value, 1, ttl)
	} else {
		m.cache.Set(key, value, 1)
	}
	m.cache.Wait()

	m.mu.Lock()
	if ttl > 0 {
		m.keys[key] = time.Now().Add(ttl)
	} else {
		m.keys[key] = time.Time{}
	}
	m.mu.Unlock()
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	return m.cache.Get(key)
}

func (m *MemoryCache) Delete(key string) {
	m.cache.Del(key)
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
}

// KeysWithPrefix returns the tracked keys starting with prefix, skipping any
// that have already expired (ristretto evicts lazily, so this is an
// over-approximation until the next access or sweep touches them).
func (m *MemoryCache) KeysWithPrefix(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var result []string
	for k, expiry := range m.keys {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if !expiry.IsZero() && now.After(expiry) {
			continue
		}
		result = append(result, k)
	}
	return result
}

// Sweep drops tracked keys past their expiry. Redis expires via TTL on its
// own; this is only needed for this in-memory tier, and is what the
// robfig/cron job calls periodically.
func (m *MemoryCache) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cleared := 0
	for k, expiry := range m.keys {
		if !expiry.IsZero() && now.After(expiry) {
			m.cache.Del(k)
			delete(m.keys, k)
			cleared++
		}
	}
	return cleared
}
