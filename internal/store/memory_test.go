package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	m, err := NewMemoryCache()
	require.NoError(t, err)

	m.Set("dispatch:accounts:a@example.com", "value", 0)

	v, ok := m.Get("dispatch:accounts:a@example.com")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	m.Delete("dispatch:accounts:a@example.com")
	_, ok = m.Get("dispatch:accounts:a@example.com")
	assert.False(t, ok)
}

func TestMemoryCache_KeysWithPrefix(t *testing.T) {
	m, err := NewMemoryCache()
	require.NoError(t, err)

	m.Set("dispatch:accounts:a@example.com", 1, 0)
	m.Set("dispatch:accounts:b@example.com", 2, 0)
	m.Set("dispatch:tokens:a@example.com", 3, 0)

	keys := m.KeysWithPrefix("dispatch:accounts:")
	assert.Len(t, keys, 2)
}

func TestMemoryCache_SweepRemovesExpired(t *testing.T) {
	m, err := NewMemoryCache()
	require.NoError(t, err)

	m.Set("dispatch:ratelimits:a@example.com:gemini-2.5-pro", "v", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	cleared := m.Sweep()
	assert.Equal(t, 1, cleared)

	keys := m.KeysWithPrefix("dispatch:ratelimits:")
	assert.Empty(t, keys)
}

func TestMemoryCache_SweepLeavesUnexpiredKeys(t *testing.T) {
	m, err := NewMemoryCache()
	require.NoError(t, err)

	m.Set("dispatch:health:a@example.com", "v", 0)
	cleared := m.Sweep()

	assert.Equal(t, 0, cleared)
	_, ok := m.Get("dispatch:health:a@example.com")
	assert.True(t, ok)
}
