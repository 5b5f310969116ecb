package arbiter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

func TestUseFallback_OffAlwaysFalse(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchOff, PrimaryPoolSize: 0}
	assert.False(t, UseFallback(d, nil))
}

func TestUseFallback_DisabledAlwaysFalse(t *testing.T) {
	d := Decision{ZaiEnabled: false, DispatchMode: config.DispatchExclusive}
	assert.False(t, UseFallback(d, nil))
}

func TestUseFallback_ExclusiveAlwaysTrue(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchExclusive, PrimaryPoolSize: 5, PrimaryHasAvailable: true}
	assert.True(t, UseFallback(d, nil))
}

func TestUseFallback_FallbackUsesPrimaryWhenAvailable(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchFallback, PrimaryPoolSize: 2, PrimaryHasAvailable: true}
	assert.False(t, UseFallback(d, nil))
}

func TestUseFallback_FallbackUsedWhenPoolEmpty(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchFallback, PrimaryPoolSize: 0}
	assert.True(t, UseFallback(d, nil))
}

func TestUseFallback_FallbackUsedWhenNoneAvailable(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchFallback, PrimaryPoolSize: 3, PrimaryHasAvailable: false}
	assert.True(t, UseFallback(d, nil))
}

func TestUseFallback_PooledHitsEveryNPlusOne(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchPooled, PrimaryPoolSize: 2}
	counter := &RoundRobinCounter{}

	var hits int
	for i := 0; i < 9; i++ {
		if UseFallback(d, counter) {
			hits++
		}
	}
	assert.Equal(t, 3, hits)
}

func TestUseFallback_PooledFirstCallUsesFallback(t *testing.T) {
	d := Decision{ZaiEnabled: true, DispatchMode: config.DispatchPooled, PrimaryPoolSize: 2}
	counter := &RoundRobinCounter{}
	assert.True(t, UseFallback(d, counter))
	assert.False(t, UseFallback(d, counter))
	assert.False(t, UseFallback(d, counter))
}
