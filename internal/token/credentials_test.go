package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("irrelevant-since-unverified"))
	require.NoError(t, err)
	return signed
}

func TestTtlFromJWT_UsesExpiryClaim(t *testing.T) {
	exp := time.Now().Add(2 * time.Minute)
	ttl := ttlFromJWT(signedJWT(t, exp), 10*time.Minute)
	assert.InDelta(t, 2*time.Minute, ttl, float64(2*time.Second))
}

func TestTtlFromJWT_ClampsToFallback(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	ttl := ttlFromJWT(signedJWT(t, exp), 5*time.Minute)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestTtlFromJWT_FallsBackForExpiredToken(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	ttl := ttlFromJWT(signedJWT(t, exp), 5*time.Minute)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestTtlFromJWT_FallsBackForOpaqueToken(t *testing.T) {
	ttl := ttlFromJWT("not-a-jwt", 5*time.Minute)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestCredentials_ManualAccountUsesAPIKey(t *testing.T) {
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	c := NewCredentials(store.NewAccountStore(nil, mem))

	acc := &store.Account{Email: "a@example.com", Source: "manual", APIKey: "sk-test"}
	token, err := c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", token)
}

func TestCredentials_OAuthAccountUsesBearerToken(t *testing.T) {
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	c := NewCredentials(store.NewAccountStore(nil, mem))

	bearer := signedJWT(t, time.Now().Add(time.Minute))
	acc := &store.Account{Email: "a@example.com", Source: "oauth", RefreshToken: bearer}
	token, err := c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, bearer, token)
}

func TestCredentials_UnknownSourceErrors(t *testing.T) {
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	c := NewCredentials(store.NewAccountStore(nil, mem))

	acc := &store.Account{Email: "a@example.com", Source: "database"}
	_, err = c.GetAccessToken(context.Background(), acc)
	assert.Error(t, err)
}

func TestCredentials_LeaseIsReusedUntilExpiry(t *testing.T) {
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	c := NewCredentials(store.NewAccountStore(nil, mem))

	acc := &store.Account{Email: "a@example.com", Source: "manual", APIKey: "sk-test"}
	_, err = c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)

	acc.APIKey = "sk-changed"
	token, err := c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", token, "cached lease should be reused instead of re-resolving")
}

func TestCredentials_ClearCacheForAccountForcesReresolve(t *testing.T) {
	mem, err := store.NewMemoryCache()
	require.NoError(t, err)
	c := NewCredentials(store.NewAccountStore(nil, mem))

	acc := &store.Account{Email: "a@example.com", Source: "manual", APIKey: "sk-test"}
	_, err = c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)

	c.ClearCacheForAccount(context.Background(), acc.Email)
	acc.APIKey = "sk-changed"
	token, err := c.GetAccessToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "sk-changed", token)
}
