// Package config provides configuration constants and runtime configuration management.
package config

import (
	"regexp"
	"strconv"
	"strings"
)

const Version = "1.0.0"

// Upstream v1internal endpoints, in fallback order.
const (
	UpstreamEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	UpstreamEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// UpstreamEndpointFallbacks is the endpoint fallback order for generateContent (daily -> prod).
var UpstreamEndpointFallbacks = []string{
	UpstreamEndpointDaily,
	UpstreamEndpointProd,
}

// LoadCodeAssistEndpoints is the endpoint order for loadCodeAssist (prod first);
// loadCodeAssist works better on prod for fresh/unprovisioned accounts.
var LoadCodeAssistEndpoints = []string{
	UpstreamEndpointProd,
	UpstreamEndpointDaily,
}

// DefaultProjectID is used if no project id can be discovered from the account.
const DefaultProjectID = "rising-fact-p41fc"

// Request/response timing and size constants.
const (
	TokenRefreshIntervalMs = 5 * 60 * 1000
	RequestBodyLimit int64 = 50 * 1024 * 1024
	DefaultPort            = 8080
	StreamPeekTimeoutMs    = 60 * 1000
)

// Rate limit, retry, and cooldown constants.
const (
	DefaultCooldownMs      = 10 * 1000
	MaxRetries             = 5
	MaxEmptyResponseRetries = 2
	MaxAccounts            = 10
	MaxWaitBeforeErrorMs   = 120000
	RateLimitDedupWindowMs = 2000
	RateLimitStateResetMs  = 120000
	FirstRetryDelayMs      = 1000
	SwitchAccountDelayMs   = 5000
	MaxConsecutiveFailures = 3
	ExtendedCooldownMs     = 60000
	MaxCapacityRetries     = 5
	MinBackoffMs           = 2000
	CapacityJitterMaxMs    = 10000
)

// CapacityBackoffTiersMs is the progressive backoff schedule for model
// capacity exhaustion (503/529 with no server-supplied retry hint).
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// QuotaExhaustedBackoffTiersMs is the progressive backoff schedule for a
// confirmed quota exhaustion (60s, 5m, 30m, 2h).
var QuotaExhaustedBackoffTiersMs = []int64{60000, 300000, 1800000, 7200000}

// BackoffByErrorType is the default backoff applied per classified error kind
// when the upstream gives no explicit retry-after hint.
var BackoffByErrorType = map[string]int64{
	"RATE_LIMIT_EXCEEDED":      30000,
	"MODEL_CAPACITY_EXHAUSTED": 15000,
	"SERVER_ERROR":             20000,
	"UNKNOWN":                  60000,
}

const MinSignatureLength = 50

// SchedulingMode enumerates the account-selection modes C1 exposes.
type SchedulingMode string

const (
	SchedulingCacheFirst       SchedulingMode = "cache_first"
	SchedulingBalance          SchedulingMode = "balance"
	SchedulingPerformanceFirst SchedulingMode = "performance_first"
	SchedulingSelected         SchedulingMode = "selected"
)

// SchedulingModes is the full set of valid scheduling modes.
var SchedulingModes = []SchedulingMode{
	SchedulingCacheFirst, SchedulingBalance, SchedulingPerformanceFirst, SchedulingSelected,
}

var DefaultSchedulingMode = SchedulingBalance

// SchedulingModeLabels are display labels for each scheduling mode.
var SchedulingModeLabels = map[SchedulingMode]string{
	SchedulingCacheFirst:       "Cache First (Sticky)",
	SchedulingBalance:          "Balance (Round Robin)",
	SchedulingPerformanceFirst: "Performance First (Health Weighted)",
	SchedulingSelected:         "Selected (Pinned Account)",
}

// DispatchMode enumerates how the provider arbiter routes between the
// primary pool and the fallback provider.
type DispatchMode string

const (
	DispatchOff      DispatchMode = "off"
	DispatchExclusive DispatchMode = "exclusive"
	DispatchFallback DispatchMode = "fallback"
	DispatchPooled   DispatchMode = "pooled"
)

var DefaultDispatchMode = DispatchFallback

// Gemini-specific constants.
const (
	GeminiMaxOutputTokens     = 16384
	GeminiSkipSignature       = "skip_thought_signature_validator"
	GeminiSignatureCacheTTLMs = 2 * 60 * 60 * 1000
	ModelValidationCacheTTLMs = 5 * 60 * 1000
)

// ModelFallbackMap maps a primary model to the model it falls back to when
// its own quota is exhausted.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":         "claude-opus-4-6-thinking",
	"gemini-3-pro-low":          "claude-sonnet-4-5",
	"gemini-3-flash":            "claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking":  "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-3-flash",
}

// ModelFamily represents which wire format a model name belongs to.
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily returns the model family implied by a model name.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") {
		return ModelFamilyClaude
	}
	if strings.Contains(lower, "gemini") {
		return ModelFamilyGemini
	}
	return ModelFamilyUnknown
}

var geminiVersionPattern = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model name implies extended thinking support.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		matches := geminiVersionPattern.FindStringSubmatch(lower)
		if len(matches) >= 2 {
			version, err := strconv.Atoi(matches[1])
			if err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}

// AgentSystemInstruction is prefixed (wrapped once in [ignore] tags) onto
// every outbound system instruction so the model doesn't identify itself by
// the client's product name in its own replies.
const AgentSystemInstruction = `You are a powerful agentic AI coding assistant. ` +
	`You are pair programming with a USER to solve their coding task. The task may ` +
	`require creating a new codebase, modifying or debugging an existing codebase, ` +
	`or simply answering a question.`

// SafetyCategories are the harm categories the dispatch engine sets to OFF on
// every outbound request, since the upstream's default thresholds are tuned
// for a consumer chat product and reject routine code/security content.
var SafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// GetFallbackModel returns the fallback model for modelName, if configured.
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

// HasFallback reports whether modelName has a fallback configured.
func HasFallback(modelName string) bool {
	_, ok := ModelFallbackMap[modelName]
	return ok
}
