package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

// leasedToken is an in-process cache entry for an account's bearer token.
type leasedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Credentials holds the bearer token lease for each account in memory (and,
// when available, in the shared store) so every dispatch doesn't re-decode
// the token. Acquiring and refreshing the underlying OAuth token is done by
// an external collaborator; this type only ever receives an already-minted
// bearer token and tracks how long it can still be trusted.
type Credentials struct {
	mu     sync.RWMutex
	store  *store.AccountStore
	leases map[string]*leasedToken
}

func NewCredentials(accounts *store.AccountStore) *Credentials {
	return &Credentials{store: accounts, leases: make(map[string]*leasedToken)}
}

// GetAccessToken returns a usable bearer token for acc, decoding its JWT
// expiry claim (when present) to decide how long to trust the lease.
// Opaque (non-JWT) bearer tokens, and manual API keys, are trusted for a
// fixed 5-minute lease instead.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *store.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	lease, ok := c.leases[acc.Email]
	c.mu.RUnlock()
	if ok && lease.ExpiresAt.After(time.Now()) {
		return lease.Token, nil
	}

	if c.store != nil {
		cached, err := c.store.GetCachedToken(ctx, acc.Email)
		if err == nil && cached != nil && cached.AccessToken != "" {
			if time.Since(cached.ExtractedAt) < 5*time.Minute {
				c.lease(acc.Email, cached.AccessToken, 5*time.Minute)
				return cached.AccessToken, nil
			}
		}
	}

	token, ttl, err := c.resolveBearerToken(acc)
	if err != nil {
		return "", err
	}

	c.lease(acc.Email, token, ttl)
	if c.store != nil {
		_ = c.store.SetCachedToken(ctx, acc.Email, token, ttl)
	}

	return token, nil
}

func (c *Credentials) resolveBearerToken(acc *store.Account) (string, time.Duration, error) {
	switch acc.Source {
	case "oauth":
		if acc.RefreshToken == "" {
			return "", 0, fmt.Errorf("no bearer token on file for account %s", acc.Email)
		}
		ttl := ttlFromJWT(acc.RefreshToken, 5*time.Minute)
		return acc.RefreshToken, ttl, nil

	case "manual":
		if acc.APIKey == "" {
			return "", 0, fmt.Errorf("no API key for manual account %s", acc.Email)
		}
		return acc.APIKey, 5 * time.Minute, nil

	default:
		return "", 0, fmt.Errorf("unknown account source: %s", acc.Source)
	}
}

// ttlFromJWT decodes (without verifying signature, since this process does
// not hold the issuer's key) the "exp" claim of a JWT-shaped bearer token
// and returns the remaining lifetime, clamped to fallback when the token
// isn't a parseable JWT or is already expired.
func ttlFromJWT(bearer string, fallback time.Duration) time.Duration {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(bearer, claims); err != nil {
		return fallback
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}

	remaining := time.Until(exp.Time)
	if remaining <= 0 {
		return fallback
	}
	if remaining > fallback {
		return fallback
	}
	return remaining
}

func (c *Credentials) lease(email, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[email] = &leasedToken{Token: token, ExpiresAt: time.Now().Add(ttl)}
}

func (c *Credentials) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases = make(map[string]*leasedToken)
}

func (c *Credentials) ClearCacheForAccount(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.leases, email)
	c.mu.Unlock()

	if c.store != nil {
		_ = c.store.ClearTokenCache(ctx, email)
	}
}
