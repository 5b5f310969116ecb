// Package arbiter implements the provider arbiter (C5): a small boolean
// decision of whether a request should be handed to the fallback provider
// instead of the primary OAuth account pool.
package arbiter

import (
	"sync/atomic"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

// Decision carries everything the arbiter needs to decide. PrimaryHasAvailable
// reports whether the primary pool currently has an account that can serve
// the requested model family, so callers should evaluate it just before
// dispatch rather than caching it.
type Decision struct {
	ZaiEnabled         bool
	DispatchMode       config.DispatchMode
	PrimaryPoolSize    int
	PrimaryHasAvailable bool
}

// RoundRobinCounter is the shared counter Pooled mode advances on every
// decision. Its zero value is ready to use; wrap it in whatever lifetime the
// caller needs (process-wide singleton, per-model, etc).
type RoundRobinCounter struct {
	n uint64
}

// Next returns the counter's pre-increment value and advances it. Ordering
// across goroutines is relaxed: unfair interleaving under concurrent
// dispatch is acceptable, since Pooled mode only needs an even split over
// time, not a strict round-robin sequence.
func (c *RoundRobinCounter) Next() uint64 {
	return atomic.AddUint64(&c.n, 1) - 1
}

// UseFallback decides whether this request should go to the fallback
// provider instead of the primary pool.
func UseFallback(d Decision, counter *RoundRobinCounter) bool {
	if !d.ZaiEnabled || d.DispatchMode == config.DispatchOff {
		return false
	}

	switch d.DispatchMode {
	case config.DispatchExclusive:
		return true
	case config.DispatchFallback:
		return d.PrimaryPoolSize == 0 || !d.PrimaryHasAvailable
	case config.DispatchPooled:
		if d.PrimaryPoolSize < 0 {
			return true
		}
		modulus := uint64(d.PrimaryPoolSize + 1)
		if modulus == 0 {
			return true
		}
		if counter == nil {
			counter = &RoundRobinCounter{}
		}
		return counter.Next()%modulus == 0
	default:
		return false
	}
}
