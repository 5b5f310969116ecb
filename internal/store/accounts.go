package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Account is a configured OAuth-bearer account in the pool.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"` // "oauth", "manual", "database"
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	Subscription *SubscriptionInfo `json:"subscription,omitempty"`

	QuotaThreshold       *float64           `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64 `json:"modelQuotaThresholds,omitempty"`
	Quota                *QuotaInfo         `json:"quota,omitempty"`

	ModelRateLimits map[string]*RateLimitInfo `json:"modelRateLimits,omitempty"`

	LastUsed      int64  `json:"lastUsed,omitempty"`
	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAt     int64  `json:"invalidAt,omitempty"`

	// Cooldown tracking, runtime only, never persisted.
	CoolingDownUntil int64  `json:"-"`
	CooldownReason   string `json:"-"`
}

type SubscriptionInfo struct {
	Tier       string `json:"tier"` // "free", "pro", "ultra"
	ProjectID  string `json:"projectId,omitempty"`
	DetectedAt int64  `json:"detectedAt"`
}

type QuotaInfo struct {
	Models      map[string]*ModelQuotaInfo `json:"models"`
	LastChecked int64                      `json:"lastChecked,omitempty"`
}

type ModelQuotaInfo struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"`
}

type RateLimitInfo struct {
	IsRateLimited bool  `json:"isRateLimited"`
	ResetTime     int64 `json:"resetTime,omitempty"`
	ActualResetMs int64 `json:"actualResetMs,omitempty"`
}

type HealthScore struct {
	Score               float64   `json:"score"`
	LastUpdated         time.Time `json:"lastUpdated"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

type TokenBucket struct {
	Tokens      float64   `json:"tokens"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// AccountStore provides account-specific persistence. It prefers Redis when
// available and falls back to an in-process MemoryCache otherwise, so a
// single-box deployment without Redis still works, just without cross-process
// sharing of account state.
type AccountStore struct {
	client *Client
	memory *MemoryCache
}

// NewAccountStore builds a store over client (may be nil) and memory (the
// fallback tier, must not be nil).
func NewAccountStore(client *Client, memory *MemoryCache) *AccountStore {
	return &AccountStore{client: client, memory: memory}
}

func (s *AccountStore) hasRedis() bool { return s.client != nil }

// ============================================================
// Account CRUD
// ============================================================

func (s *AccountStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	if !s.hasRedis() {
		if v, ok := s.memory.Get(PrefixAccounts + email); ok {
			acc := v.(Account)
			return &acc, nil
		}
		return nil, nil
	}

	key := PrefixAccounts + email
	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	account := &Account{
		Email:                email,
		ModelQuotaThresholds: make(map[string]float64),
	}

	if v, ok := data["source"]; ok {
		account.Source = v
	}
	if v, ok := data["enabled"]; ok {
		account.Enabled = v == "true"
	}
	if v, ok := data["refreshToken"]; ok {
		account.RefreshToken = v
	}
	if v, ok := data["apiKey"]; ok {
		account.APIKey = v
	}
	if v, ok := data["projectId"]; ok {
		account.ProjectID = v
	}
	if v, ok := data["isInvalid"]; ok {
		account.IsInvalid = v == "true"
	}
	if v, ok := data["invalidReason"]; ok {
		account.InvalidReason = v
	}
	if v, ok := data["lastUsed"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			account.LastUsed = t.UnixMilli()
		}
	}
	if v, ok := data["invalidAt"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			account.InvalidAt = t.UnixMilli()
		}
	}
	if v, ok := data["quotaThreshold"]; ok {
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			account.QuotaThreshold = &f
		}
	}
	if v, ok := data["subscription"]; ok {
		var sub SubscriptionInfo
		if err := json.Unmarshal([]byte(v), &sub); err == nil {
			account.Subscription = &sub
		}
	}
	if v, ok := data["quota"]; ok {
		var quota QuotaInfo
		if err := json.Unmarshal([]byte(v), &quota); err == nil {
			account.Quota = &quota
		}
	}
	if v, ok := data["modelQuotaThresholds"]; ok {
		var thresholds map[string]float64
		if err := json.Unmarshal([]byte(v), &thresholds); err == nil {
			account.ModelQuotaThresholds = thresholds
		}
	}

	return account, nil
}

func (s *AccountStore) SetAccount(ctx context.Context, account *Account) error {
	if !s.hasRedis() {
		s.memory.Set(PrefixAccounts+account.Email, *account, 0)
		return nil
	}

	key := PrefixAccounts + account.Email
	values := map[string]interface{}{
		"email":     account.Email,
		"source":    account.Source,
		"enabled":   fmt.Sprintf("%t", account.Enabled),
		"isInvalid": fmt.Sprintf("%t", account.IsInvalid),
	}

	if account.RefreshToken != "" {
		values["refreshToken"] = account.RefreshToken
	}
	if account.APIKey != "" {
		values["apiKey"] = account.APIKey
	}
	if account.ProjectID != "" {
		values["projectId"] = account.ProjectID
	}
	if account.InvalidReason != "" {
		values["invalidReason"] = account.InvalidReason
	}
	if account.LastUsed > 0 {
		values["lastUsed"] = time.UnixMilli(account.LastUsed).Format(time.RFC3339)
	}
	if account.InvalidAt > 0 {
		values["invalidAt"] = time.UnixMilli(account.InvalidAt).Format(time.RFC3339)
	}
	if account.QuotaThreshold != nil {
		data, _ := json.Marshal(account.QuotaThreshold)
		values["quotaThreshold"] = string(data)
	}
	if account.Subscription != nil {
		data, _ := json.Marshal(account.Subscription)
		values["subscription"] = string(data)
	}
	if account.Quota != nil {
		data, _ := json.Marshal(account.Quota)
		values["quota"] = string(data)
	}
	if len(account.ModelQuotaThresholds) > 0 {
		data, _ := json.Marshal(account.ModelQuotaThresholds)
		values["modelQuotaThresholds"] = string(data)
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}

	return s.client.SAdd(ctx, PrefixAccountIndex, account.Email)
}

func (s *AccountStore) DeleteAccount(ctx context.Context, email string) error {
	if !s.hasRedis() {
		s.memory.Delete(PrefixAccounts + email)
	} else {
		key := PrefixAccounts + email
		if err := s.client.Delete(ctx, key); err != nil {
			return err
		}
		if err := s.client.SRem(ctx, PrefixAccountIndex, email); err != nil {
			return err
		}
	}

	_ = s.ClearRateLimits(ctx, email)
	_ = s.ClearQuotas(ctx, email)
	_ = s.ClearHealth(ctx, email)
	_ = s.ClearTokenBucket(ctx, email)
	_ = s.ClearTokenCache(ctx, email)
	_ = s.ClearProjectCache(ctx, email)

	return nil
}

func (s *AccountStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	if !s.hasRedis() {
		var accounts []*Account
		for _, key := range s.memory.KeysWithPrefix(PrefixAccounts) {
			if v, ok := s.memory.Get(key); ok {
				acc := v.(Account)
				accounts = append(accounts, &acc)
			}
		}
		return accounts, nil
	}

	emails, err := s.client.SMembers(ctx, PrefixAccountIndex)
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(emails))
	for _, email := range emails {
		account, err := s.GetAccount(ctx, email)
		if err != nil {
			continue
		}
		if account != nil {
			accounts = append(accounts, account)
		}
	}

	return accounts, nil
}

// ============================================================
// Rate limit
// ============================================================

func (s *AccountStore) GetRateLimit(ctx context.Context, email, modelID string) (*RateLimitInfo, error) {
	key := PrefixRateLimits + email + ":" + modelID

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			info := v.(RateLimitInfo)
			return &info, nil
		}
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	info := &RateLimitInfo{}
	if v, ok := data["isRateLimited"]; ok {
		info.IsRateLimited = v == "true"
	}
	if v, ok := data["resetTime"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.ResetTime = t.UnixMilli()
		}
	}
	if v, ok := data["actualResetMs"]; ok {
		var ms int64
		if err := json.Unmarshal([]byte(v), &ms); err == nil {
			info.ActualResetMs = ms
		}
	}

	return info, nil
}

func (s *AccountStore) SetRateLimit(ctx context.Context, email, modelID string, info *RateLimitInfo) error {
	key := PrefixRateLimits + email + ":" + modelID

	var ttl time.Duration
	if info.ResetTime > 0 {
		if remaining := time.Until(time.UnixMilli(info.ResetTime)); remaining > 0 {
			ttl = remaining + time.Minute
		}
	}

	if !s.hasRedis() {
		s.memory.Set(key, *info, ttl)
		return nil
	}

	values := map[string]interface{}{
		"isRateLimited": fmt.Sprintf("%t", info.IsRateLimited),
		"actualResetMs": fmt.Sprintf("%d", info.ActualResetMs),
	}
	if info.ResetTime > 0 {
		values["resetTime"] = time.UnixMilli(info.ResetTime).Format(time.RFC3339)
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}
	if ttl > 0 {
		return s.client.Expire(ctx, key, ttl)
	}
	return nil
}

func (s *AccountStore) ClearRateLimit(ctx context.Context, email, modelID string) error {
	key := PrefixRateLimits + email + ":" + modelID
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

func (s *AccountStore) ClearRateLimits(ctx context.Context, email string) error {
	prefix := PrefixRateLimits + email + ":"
	if !s.hasRedis() {
		for _, key := range s.memory.KeysWithPrefix(prefix) {
			s.memory.Delete(key)
		}
		return nil
	}

	keys, err := s.client.ScanAll(ctx, prefix+"*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return s.client.Delete(ctx, keys...)
	}
	return nil
}

// ============================================================
// Quota
// ============================================================

func (s *AccountStore) GetQuotas(ctx context.Context, email string) (*QuotaInfo, error) {
	key := PrefixQuotas + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			info := v.(QuotaInfo)
			return &info, nil
		}
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	info := &QuotaInfo{Models: make(map[string]*ModelQuotaInfo)}
	for field, value := range data {
		if field == "_lastChecked" {
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.LastChecked = t.UnixMilli()
			}
			continue
		}
		var quota ModelQuotaInfo
		if err := json.Unmarshal([]byte(value), &quota); err == nil {
			info.Models[field] = &quota
		}
	}

	return info, nil
}

func (s *AccountStore) SetQuotas(ctx context.Context, email string, info *QuotaInfo) error {
	key := PrefixQuotas + email
	const ttl = 5 * time.Minute

	if !s.hasRedis() {
		s.memory.Set(key, *info, ttl)
		return nil
	}

	values := map[string]interface{}{}
	if info.LastChecked > 0 {
		values["_lastChecked"] = time.UnixMilli(info.LastChecked).Format(time.RFC3339)
	}
	for modelID, quota := range info.Models {
		data, _ := json.Marshal(quota)
		values[modelID] = string(data)
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, ttl)
}

func (s *AccountStore) ClearQuotas(ctx context.Context, email string) error {
	key := PrefixQuotas + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Health score
// ============================================================

func (s *AccountStore) GetHealth(ctx context.Context, email string) (*HealthScore, error) {
	key := PrefixHealth + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			h := v.(HealthScore)
			return &h, nil
		}
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	score := &HealthScore{}
	if v, ok := data["score"]; ok {
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			score.Score = f
		}
	}
	if v, ok := data["lastUpdated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			score.LastUpdated = t
		}
	}
	if v, ok := data["consecutiveFailures"]; ok {
		var n int
		if err := json.Unmarshal([]byte(v), &n); err == nil {
			score.ConsecutiveFailures = n
		}
	}

	return score, nil
}

func (s *AccountStore) SetHealth(ctx context.Context, email string, score *HealthScore) error {
	key := PrefixHealth + email

	if !s.hasRedis() {
		s.memory.Set(key, *score, 0)
		return nil
	}

	values := map[string]interface{}{
		"score":               fmt.Sprintf("%f", score.Score),
		"lastUpdated":         score.LastUpdated.Format(time.RFC3339),
		"consecutiveFailures": fmt.Sprintf("%d", score.ConsecutiveFailures),
	}
	return s.client.HSet(ctx, key, values)
}

func (s *AccountStore) ClearHealth(ctx context.Context, email string) error {
	key := PrefixHealth + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Token bucket
// ============================================================

func (s *AccountStore) GetTokenBucket(ctx context.Context, email string) (*TokenBucket, error) {
	key := PrefixTokens + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			b := v.(TokenBucket)
			return &b, nil
		}
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	bucket := &TokenBucket{}
	if v, ok := data["tokens"]; ok {
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			bucket.Tokens = f
		}
	}
	if v, ok := data["lastUpdated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			bucket.LastUpdated = t
		}
	}

	return bucket, nil
}

func (s *AccountStore) SetTokenBucket(ctx context.Context, email string, bucket *TokenBucket) error {
	key := PrefixTokens + email

	if !s.hasRedis() {
		s.memory.Set(key, *bucket, 0)
		return nil
	}

	values := map[string]interface{}{
		"tokens":      fmt.Sprintf("%f", bucket.Tokens),
		"lastUpdated": bucket.LastUpdated.Format(time.RFC3339),
	}
	return s.client.HSet(ctx, key, values)
}

func (s *AccountStore) ClearTokenBucket(ctx context.Context, email string) error {
	key := PrefixTokens + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Token + project cache (access-token lease bookkeeping)
// ============================================================

func (s *AccountStore) GetCachedToken(ctx context.Context, email string) (*CachedToken, error) {
	key := PrefixTokenCache + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			t := v.(CachedToken)
			return &t, nil
		}
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	token := &CachedToken{}
	if v, ok := data["accessToken"]; ok {
		token.AccessToken = v
	}
	if v, ok := data["extractedAt"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			token.ExtractedAt = t
		}
	}

	return token, nil
}

func (s *AccountStore) SetCachedToken(ctx context.Context, email, token string, ttl time.Duration) error {
	key := PrefixTokenCache + email

	if !s.hasRedis() {
		s.memory.Set(key, CachedToken{AccessToken: token, ExtractedAt: time.Now()}, ttl)
		return nil
	}

	values := map[string]interface{}{
		"accessToken": token,
		"extractedAt": time.Now().Format(time.RFC3339),
	}
	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, ttl)
}

func (s *AccountStore) ClearTokenCache(ctx context.Context, email string) error {
	key := PrefixTokenCache + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

func (s *AccountStore) GetCachedProject(ctx context.Context, email string) (string, error) {
	key := PrefixProjectCache + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			return v.(string), nil
		}
		return "", nil
	}

	return s.client.GetString(ctx, key)
}

func (s *AccountStore) SetCachedProject(ctx context.Context, email, projectID string, ttl time.Duration) error {
	key := PrefixProjectCache + email

	if !s.hasRedis() {
		s.memory.Set(key, projectID, ttl)
		return nil
	}

	return s.client.SetString(ctx, key, projectID, ttl)
}

func (s *AccountStore) ClearProjectCache(ctx context.Context, email string) error {
	key := PrefixProjectCache + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}
