package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

// HealthScoreConfig configures passive health-score bookkeeping for an
// account: reward/penalty deltas and the hourly recovery rate.
type HealthScoreConfig struct {
	Initial          float64 `mapstructure:"initial"`
	SuccessReward    float64 `mapstructure:"success_reward"`
	RateLimitPenalty float64 `mapstructure:"rate_limit_penalty"`
	FailurePenalty   float64 `mapstructure:"failure_penalty"`
	RecoveryPerHour  float64 `mapstructure:"recovery_per_hour"`
	MinUsable        float64 `mapstructure:"min_usable"`
	MaxScore         float64 `mapstructure:"max_score"`
}

// TokenBucketConfig configures the client-side per-account rate limiter.
type TokenBucketConfig struct {
	MaxTokens       float64 `mapstructure:"max_tokens"`
	TokensPerMinute float64 `mapstructure:"tokens_per_minute"`
	InitialTokens   float64 `mapstructure:"initial_tokens"`
}

// QuotaConfig configures fraction-based quota thresholds and staleness handling.
type QuotaConfig struct {
	LowThreshold      float64 `mapstructure:"low_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	StaleMs           int64   `mapstructure:"stale_ms"`
	UnknownScore      float64 `mapstructure:"unknown_score"`
}

// WeightsConfig weighs the signals PerformanceFirst scoring combines.
type WeightsConfig struct {
	Health float64 `mapstructure:"health"`
	Tokens float64 `mapstructure:"tokens"`
	Quota  float64 `mapstructure:"quota"`
	Lru    float64 `mapstructure:"lru"`
}

// AccountSelectionConfig configures C1's scheduling behavior.
type AccountSelectionConfig struct {
	Strategy    SchedulingMode     `mapstructure:"strategy"`
	HealthScore *HealthScoreConfig `mapstructure:"health_score"`
	TokenBucket *TokenBucketConfig `mapstructure:"token_bucket"`
	Quota       *QuotaConfig       `mapstructure:"quota"`
	Weights     *WeightsConfig     `mapstructure:"weights"`
}

// Config is the runtime configuration for the dispatch engine.
type Config struct {
	mu sync.RWMutex

	APIKey        string `mapstructure:"api_key"`
	WebUIPassword string `mapstructure:"webui_password"`

	Debug    bool   `mapstructure:"debug"`
	DevMode  bool   `mapstructure:"dev_mode"`
	LogLevel string `mapstructure:"log_level"`

	MaxRetries  int   `mapstructure:"max_retries"`
	RetryBaseMs int64 `mapstructure:"retry_base_ms"`
	RetryMaxMs  int64 `mapstructure:"retry_max_ms"`

	PersistTokenCache bool `mapstructure:"persist_token_cache"`

	DefaultCooldownMs    int64 `mapstructure:"default_cooldown_ms"`
	MaxWaitBeforeErrorMs int64 `mapstructure:"max_wait_before_error_ms"`

	MaxAccounts          int     `mapstructure:"max_accounts"`
	GlobalQuotaThreshold float64 `mapstructure:"global_quota_threshold"`

	RateLimitDedupWindowMs int64 `mapstructure:"rate_limit_dedup_window_ms"`
	MaxConsecutiveFailures int   `mapstructure:"max_consecutive_failures"`
	ExtendedCooldownMs     int64 `mapstructure:"extended_cooldown_ms"`
	MaxCapacityRetries     int   `mapstructure:"max_capacity_retries"`

	ModelMapping map[string]string `mapstructure:"model_mapping"`

	AccountSelection AccountSelectionConfig `mapstructure:"account_selection"`

	DispatchMode DispatchMode `mapstructure:"dispatch_mode"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	FallbackEnabled bool `mapstructure:"fallback_enabled"`

	// EstimatorEWMAAlpha smooths the context calibrator's process-wide
	// correction factor between observed-vs-estimated token ratios.
	EstimatorEWMAAlpha float64 `mapstructure:"estimator_ewma_alpha"`

	// DebugSinkEnabled toggles the in-memory debug trace sink (C8). Persisted
	// log export is out of scope; this only gates the in-process ring buffer.
	DebugSinkEnabled bool `mapstructure:"debug_sink_enabled"`

	// RateLimitSweepIntervalSeconds is the period of the background cron job
	// that drops in-memory entries past their TTL (validation blocks are
	// stored with no TTL and are not swept).
	RateLimitSweepIntervalSeconds int `mapstructure:"rate_limit_sweep_interval_seconds"`

	// Context configures C3's progressive compression pipeline.
	Context ContextConfig `mapstructure:"context"`

	// AccountsFile, when set, points at a JSON file of accounts to seed the
	// pool with on startup. Acquiring and refreshing the OAuth credentials
	// those accounts carry is done by an external collaborator; this is
	// only a convenience loader for accounts that are already provisioned.
	AccountsFile string `mapstructure:"accounts_file"`
}

// ContextConfig configures the three-layer progressive compression pipeline
// and the calibrator that feeds it a corrected token estimate.
type ContextConfig struct {
	ScalingEnabled bool `mapstructure:"scaling_enabled"`

	// ThresholdL1/L2/L3 are usage ratios (estimated/context_limit) above
	// which each compression layer engages. Must hold
	// ThresholdL1 < ThresholdL2 < ThresholdL3, all in (0,1).
	ThresholdL1 float64 `mapstructure:"threshold_l1"`
	ThresholdL2 float64 `mapstructure:"threshold_l2"`
	ThresholdL3 float64 `mapstructure:"threshold_l3"`

	// KeepLastNToolPairs/KeepLastNThinkingBlocks bound how much recent
	// detail L1/L2 leave untouched.
	KeepLastNToolPairs      int `mapstructure:"keep_last_n_tool_pairs"`
	KeepLastNThinkingBlocks int `mapstructure:"keep_last_n_thinking_blocks"`
	ThinkingStubMaxChars    int `mapstructure:"thinking_stub_max_chars"`

	// CalibratorMin/Max clamp the calibrator's multiplicative correction
	// factor so a run of bad observations can't drive it to zero or let it
	// runaway upward.
	CalibratorMin float64 `mapstructure:"calibrator_min"`
	CalibratorMax float64 `mapstructure:"calibrator_max"`
}

// DefaultConfig returns a Config populated with the engine's defaults.
func DefaultConfig() *Config {
	return &Config{
		APIKey:                 "",
		WebUIPassword:          "",
		Debug:                  false,
		DevMode:                false,
		LogLevel:               "info",
		MaxRetries:             5,
		RetryBaseMs:            1000,
		RetryMaxMs:             30000,
		PersistTokenCache:      false,
		DefaultCooldownMs:      10000,
		MaxWaitBeforeErrorMs:   120000,
		MaxAccounts:            10,
		GlobalQuotaThreshold:   0,
		RateLimitDedupWindowMs: 2000,
		MaxConsecutiveFailures: 3,
		ExtendedCooldownMs:     60000,
		MaxCapacityRetries:     5,
		ModelMapping:           make(map[string]string),
		AccountSelection: AccountSelectionConfig{
			Strategy: DefaultSchedulingMode,
			HealthScore: &HealthScoreConfig{
				Initial:          70,
				SuccessReward:    1,
				RateLimitPenalty: -10,
				FailurePenalty:   -20,
				RecoveryPerHour:  2,
				MinUsable:        50,
				MaxScore:         100,
			},
			TokenBucket: &TokenBucketConfig{
				MaxTokens:       50,
				TokensPerMinute: 6,
				InitialTokens:   50,
			},
			Quota: &QuotaConfig{
				LowThreshold:      0.10,
				CriticalThreshold: 0.05,
				StaleMs:           300000,
			},
			Weights: &WeightsConfig{
				Health: 2,
				Tokens: 5,
				Quota:  3,
				Lru:    0.1,
			},
		},
		DispatchMode:                  DefaultDispatchMode,
		RedisAddr:                     "localhost:6379",
		RedisPassword:                 "",
		RedisDB:                       0,
		Port:                          DefaultPort,
		Host:                          "0.0.0.0",
		FallbackEnabled:               false,
		EstimatorEWMAAlpha:            0.1,
		DebugSinkEnabled:              false,
		RateLimitSweepIntervalSeconds: 30,
		Context: ContextConfig{
			ScalingEnabled:          true,
			ThresholdL1:             0.6,
			ThresholdL2:             0.75,
			ThresholdL3:             0.9,
			KeepLastNToolPairs:      3,
			KeepLastNThinkingBlocks: 2,
			ThinkingStubMaxChars:    200,
			CalibratorMin:           0.5,
			CalibratorMax:           2.0,
		},
		AccountsFile: "",
	}
}

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
)

// GetConfig returns the process-wide Config singleton, loading it on first use.
func GetConfig() *Config {
	globalConfigOnce.Do(func() {
		globalConfig = DefaultConfig()
		if err := globalConfig.Load(); err != nil {
			utils.Warn("config load failed, continuing with defaults: %v", err)
		}
	})
	return globalConfig
}

// Load reads configuration from (in ascending priority) a config file, then
// environment variables prefixed DISPATCH_, via viper.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/dispatch-engine")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			utils.Warn("failed to read config file: %v", err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return err
	}

	// Explicit env var names kept for operational compatibility with the
	// names operators already export in their shell profiles.
	bindLegacyEnv(v)
	if v.IsSet("api_key") {
		c.APIKey = v.GetString("api_key")
	}
	if v.IsSet("webui_password") {
		c.WebUIPassword = v.GetString("webui_password")
	}
	if v.IsSet("debug") {
		c.Debug = v.GetBool("debug")
	}
	if v.IsSet("dev_mode") {
		c.DevMode = v.GetBool("dev_mode")
	}
	if v.IsSet("redis_addr") {
		c.RedisAddr = v.GetString("redis_addr")
	}
	if v.IsSet("redis_password") {
		c.RedisPassword = v.GetString("redis_password")
	}
	if v.IsSet("fallback_enabled") {
		c.FallbackEnabled = v.GetBool("fallback_enabled")
	}
	if v.IsSet("accounts_file") {
		c.AccountsFile = v.GetString("accounts_file")
	}

	if c.Debug && !c.DevMode {
		c.DevMode = true
	}
	utils.SetDebug(c.Debug || c.DevMode)

	return nil
}

func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("api_key", "API_KEY")
	_ = v.BindEnv("webui_password", "WEBUI_PASSWORD")
	_ = v.BindEnv("debug", "DEBUG")
	_ = v.BindEnv("dev_mode", "DEV_MODE")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("fallback_enabled", "FALLBACK")
	_ = v.BindEnv("accounts_file", "ACCOUNTS_FILE")
}

// Update applies a partial set of updates to the in-memory config. It does
// not persist; callers that need durability write their own config file.
func (c *Config) Update(updates map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "api_key":
			if v, ok := value.(string); ok {
				c.APIKey = v
			}
		case "webui_password":
			if v, ok := value.(string); ok {
				c.WebUIPassword = v
			}
		case "debug":
			if v, ok := value.(bool); ok {
				c.Debug = v
			}
		case "dev_mode":
			if v, ok := value.(bool); ok {
				c.DevMode = v
			}
		case "global_quota_threshold":
			if v, ok := value.(float64); ok {
				c.GlobalQuotaThreshold = v
			}
		case "max_accounts":
			if v, ok := value.(float64); ok {
				c.MaxAccounts = int(v)
			}
		case "fallback_enabled":
			if v, ok := value.(bool); ok {
				c.FallbackEnabled = v
			}
		case "dispatch_mode":
			if v, ok := value.(string); ok {
				c.DispatchMode = DispatchMode(v)
			}
		}
	}

	utils.SetDebug(c.Debug || c.DevMode)
}

// GetPublic returns a redacted snapshot of the config safe to expose over HTTP.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"api_key":                    redact(c.APIKey),
		"webui_password":             redact(c.WebUIPassword),
		"debug":                      c.Debug,
		"dev_mode":                   c.DevMode,
		"log_level":                  c.LogLevel,
		"max_retries":                c.MaxRetries,
		"retry_base_ms":              c.RetryBaseMs,
		"retry_max_ms":               c.RetryMaxMs,
		"persist_token_cache":        c.PersistTokenCache,
		"default_cooldown_ms":        c.DefaultCooldownMs,
		"max_wait_before_error_ms":   c.MaxWaitBeforeErrorMs,
		"max_accounts":               c.MaxAccounts,
		"global_quota_threshold":     c.GlobalQuotaThreshold,
		"rate_limit_dedup_window_ms": c.RateLimitDedupWindowMs,
		"max_consecutive_failures":   c.MaxConsecutiveFailures,
		"extended_cooldown_ms":       c.ExtendedCooldownMs,
		"max_capacity_retries":       c.MaxCapacityRetries,
		"model_mapping":              c.ModelMapping,
		"account_selection":          c.AccountSelection,
		"dispatch_mode":              c.DispatchMode,
		"redis_addr":                 c.RedisAddr,
		"redis_password":             redact(c.RedisPassword),
		"redis_db":                   c.RedisDB,
		"port":                       c.Port,
		"host":                       c.Host,
		"fallback_enabled":           c.FallbackEnabled,
		"estimator_ewma_alpha":       c.EstimatorEWMAAlpha,
		"context":                    c.Context,
	}
}

func (c *Config) GetStrategy() SchedulingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccountSelection.Strategy
}

func (c *Config) SetStrategy(strategy SchedulingMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountSelection.Strategy = strategy
}

func (c *Config) IsDevMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DevMode
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// Convenience functions mirroring the global-singleton call-site pattern
// used throughout the rest of the codebase.

func GetPort() int  { return GetConfig().Port }
func GetHost() string { return GetConfig().Host }

func IsDebug() bool {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.Debug
}

func IsDevModeEnabled() bool { return GetConfig().IsDevMode() }

func GetGlobalQuotaThreshold() float64 {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.GlobalQuotaThreshold
}
