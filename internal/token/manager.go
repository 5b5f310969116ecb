// Package token implements the account pool scheduler: holding the set of
// configured upstream accounts, selecting one per request under the
// configured scheduling mode, and tracking each account's rate-limit,
// health, and token-bucket state as requests succeed or fail.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/apierrors"
	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/token/strategies"
	"github.com/antigravity-oss/dispatch-engine/internal/token/strategies/trackers"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// Manager owns the account pool, the active scheduling strategy, and the
// penalty tracker used to escalate cooldowns across repeated failures.
type Manager struct {
	mu sync.RWMutex

	accountStore *store.AccountStore
	credentials  *Credentials

	accounts     []*store.Account
	currentIndex int
	initialized  bool

	strategy strategies.Strategy
	mode     config.SchedulingMode
	penalty  *trackers.PenaltyTracker

	cfg *config.Config
}

func NewManager(accountStore *store.AccountStore, cfg *config.Config) *Manager {
	return &Manager{
		accountStore: accountStore,
		accounts:     make([]*store.Account, 0),
		credentials:  NewCredentials(accountStore),
		mode:         config.DefaultSchedulingMode,
		penalty:      trackers.NewPenaltyTracker(),
		cfg:          cfg,
	}
}

// Initialize loads the account pool from storage and builds the configured
// scheduling strategy. modeOverride, when non-empty, wins over the
// configured strategy (used for a CLI/request-scoped override).
func (m *Manager) Initialize(ctx context.Context, modeOverride config.SchedulingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	accounts, err := m.accountStore.ListAccounts(ctx)
	if err != nil {
		utils.Warn("[TokenManager] Failed to load accounts: %v", err)
		accounts = make([]*store.Account, 0)
	}
	m.accounts = accounts

	mode := m.cfg.GetStrategy()
	if modeOverride != "" {
		mode = modeOverride
	}
	m.mode = mode

	strategyConfig := &strategies.Config{Weights: strategies.DefaultWeights()}
	if m.cfg.AccountSelection.HealthScore != nil {
		strategyConfig.HealthScore = *m.cfg.AccountSelection.HealthScore
	}
	if m.cfg.AccountSelection.TokenBucket != nil {
		strategyConfig.TokenBucket = *m.cfg.AccountSelection.TokenBucket
	}
	if m.cfg.AccountSelection.Quota != nil {
		strategyConfig.Quota = *m.cfg.AccountSelection.Quota
	}

	m.strategy = strategies.NewStrategy(m.mode, strategyConfig, m.accountStore)
	utils.Info("[TokenManager] Using %s scheduling mode", strategies.GetModeLabel(m.mode))

	m.initialized = true
	return nil
}

func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	err := m.Initialize(ctx, "")
	if err == nil {
		utils.Info("[TokenManager] Accounts reloaded from storage")
	}
	return err
}

func (m *Manager) GetAccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

func (m *Manager) GetAllAccounts() []*store.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*store.Account, len(m.accounts))
	copy(result, m.accounts)
	return result
}

// SelectOptions carries request-scoped selection hints.
type SelectOptions struct {
	SessionID     string
	SelectedEmail string

	// ExcludeEmail is set by the dispatch engine's retry loop after a
	// failure that calls for a different account, so a repeat selection does
	// not just hand back the account that already failed. It is ignored when
	// it would leave no candidates.
	ExcludeEmail string
}

// SelectionResult is what SelectAccount hands back to the dispatch engine.
type SelectionResult struct {
	Account *store.Account
	Index   int
	WaitMs  int64
}

var ErrNotInitialized = fmt.Errorf("token manager not initialized")

// NoAccountsError indicates no account could be selected, and whether that
// is because every account is currently rate-limited (as opposed to none
// being configured or usable at all).
type NoAccountsError struct {
	Message        string
	AllRateLimited bool
}

func (e *NoAccountsError) Error() string { return e.Message }

func newNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	return &NoAccountsError{Message: message, AllRateLimited: allRateLimited}
}

func (m *Manager) SelectAccount(ctx context.Context, modelID string, options SelectOptions) (*SelectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}

	if len(m.accounts) == 0 {
		return nil, newNoAccountsError("no accounts configured", false)
	}

	candidates := m.accounts
	if options.ExcludeEmail != "" && len(m.accounts) > 1 {
		filtered := make([]*store.Account, 0, len(m.accounts))
		for _, acc := range m.accounts {
			if acc.Email != options.ExcludeEmail {
				filtered = append(filtered, acc)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	result := m.strategy.SelectAccount(candidates, modelID, strategies.SelectOptions{
		CurrentIndex:  m.currentIndex,
		SessionID:     options.SessionID,
		SelectedEmail: options.SelectedEmail,
		OnSave:        func() { m.saveToStoreLocked(ctx) },
	})

	if result.Account == nil {
		allRateLimited := m.isAllRateLimitedLocked(modelID)
		return nil, newNoAccountsError("no available accounts", allRateLimited)
	}

	m.currentIndex = result.Index

	return &SelectionResult{Account: result.Account, Index: result.Index, WaitMs: result.WaitMs}, nil
}

func (m *Manager) IsAllRateLimited(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isAllRateLimitedLocked(modelID)
}

func (m *Manager) isAllRateLimitedLocked(modelID string) bool {
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !m.isRateLimitedForModel(acc, modelID) {
			return false
		}
	}
	return true
}

func (m *Manager) isRateLimitedForModel(acc *store.Account, modelID string) bool {
	if modelID == "" {
		return false
	}
	info, _ := m.accountStore.GetRateLimit(context.Background(), acc.Email, modelID)
	if info == nil || !info.IsRateLimited {
		return false
	}
	if info.ResetTime > 0 && time.Now().After(time.UnixMilli(info.ResetTime)) {
		return false
	}
	return true
}

// GetTokenForAccount resolves a bearer token for acc, marking the account
// invalid if the lookup itself fails with what looks like a credential
// error rather than a transient one.
func (m *Manager) GetTokenForAccount(ctx context.Context, acc *store.Account) (string, error) {
	token, err := m.credentials.GetAccessToken(ctx, acc)
	if err != nil {
		classified := apierrors.Classify(0, err.Error())
		if classified.Kind == apierrors.KindAuth {
			_ = m.MarkInvalid(ctx, acc.Email, err.Error())
		}
		return "", err
	}

	if acc.IsInvalid {
		acc.IsInvalid = false
		acc.InvalidReason = ""
		_ = m.accountStore.SetAccount(ctx, acc)
	}

	return token, nil
}

// MarkRateLimited records a rate limit both in storage and against the
// strategy, and advances the account's penalty tier so a repeat offense
// within the same tier escalates the cooldown instead of repeating it.
func (m *Manager) MarkRateLimited(ctx context.Context, account *store.Account, modelID string, resetMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resetMs <= 0 {
		resetMs = m.penalty.NextBackoff(account.Email, "RATE_LIMIT_EXCEEDED").Milliseconds()
	}

	resetTime := time.Now().Add(time.Duration(resetMs) * time.Millisecond).UnixMilli()
	info := &store.RateLimitInfo{IsRateLimited: true, ResetTime: resetTime, ActualResetMs: resetMs}

	if m.strategy != nil {
		m.strategy.OnRateLimit(account, modelID)
	}

	return m.accountStore.SetRateLimit(ctx, account.Email, modelID, info)
}

// MarkCapacityExhausted advances the account's penalty tier and records a
// rate limit using that cooldown. It walks the same CapacityBackoffTiersMs
// list and per-account tier counter that MarkRateLimited uses when no reset
// time is known.
func (m *Manager) MarkCapacityExhausted(ctx context.Context, account *store.Account, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backoff := m.penalty.NextBackoff(account.Email, "MODEL_CAPACITY_EXHAUSTED")
	resetTime := time.Now().Add(backoff).UnixMilli()
	info := &store.RateLimitInfo{IsRateLimited: true, ResetTime: resetTime, ActualResetMs: backoff.Milliseconds()}

	return m.accountStore.SetRateLimit(ctx, account.Email, modelID, info)
}

func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.IsInvalid = true
			acc.InvalidReason = reason
			acc.InvalidAt = time.Now().UnixMilli()
			return m.accountStore.SetAccount(ctx, acc)
		}
	}
	return nil
}

// NotifySuccess reports a successful dispatch to both the active strategy
// and the penalty tracker, decaying any escalated backoff tier.
func (m *Manager) NotifySuccess(account *store.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnSuccess(account, modelID)
	}
	m.penalty.Decay(account.Email)
}

func (m *Manager) NotifyFailure(account *store.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnFailure(account, modelID)
	}
}

func (m *Manager) GetSchedulingMode() config.SchedulingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *Manager) saveToStoreLocked(ctx context.Context) {
	for _, acc := range m.accounts {
		if err := m.accountStore.SetAccount(ctx, acc); err != nil {
			utils.Warn("[TokenManager] Failed to save account %s: %v", acc.Email, err)
		}
	}
}

func (m *Manager) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.Enabled = enabled
			return m.accountStore.SetAccount(ctx, acc)
		}
	}
	return newNoAccountsError("account "+email+" not found", false)
}

func (m *Manager) AddOrUpdateAccount(ctx context.Context, acc *store.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			m.accounts[i] = acc
			return m.accountStore.SetAccount(ctx, acc)
		}
	}

	if len(m.accounts) >= m.cfg.MaxAccounts {
		return newNoAccountsError("maximum accounts reached", false)
	}

	m.accounts = append(m.accounts, acc)
	utils.Info("[TokenManager] Account %s added", acc.Email)
	return m.accountStore.SetAccount(ctx, acc)
}

func (m *Manager) RemoveAccount(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, acc := range m.accounts {
		if acc.Email == email {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return m.accountStore.DeleteAccount(ctx, email)
		}
	}
	return newNoAccountsError("account "+email+" not found", false)
}

// Status summarizes the pool for an operator-facing status endpoint.
type Status struct {
	Total     int             `json:"total"`
	Available int             `json:"available"`
	Invalid   int             `json:"invalid"`
	Mode      config.SchedulingMode `json:"mode"`
	Accounts  []AccountStatus `json:"accounts"`
}

type AccountStatus struct {
	Email         string `json:"email"`
	Source        string `json:"source"`
	Enabled       bool   `json:"enabled"`
	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	LastUsed      int64  `json:"lastUsed,omitempty"`
}

func (m *Manager) GetStatus() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := &Status{Total: len(m.accounts), Mode: m.mode, Accounts: make([]AccountStatus, 0, len(m.accounts))}

	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			status.Invalid++
		} else {
			status.Available++
		}

		status.Accounts = append(status.Accounts, AccountStatus{
			Email:         acc.Email,
			Source:        acc.Source,
			Enabled:       acc.Enabled,
			IsInvalid:     acc.IsInvalid,
			InvalidReason: acc.InvalidReason,
			LastUsed:      acc.LastUsed,
		})
	}

	return status
}
