package dispatch

import (
	"strings"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/apierrors"
)

// MaxRetryAttempts is the nominal attempt budget before clamping to the
// account pool size; the dispatch loop never makes more attempts than it
// has distinct accounts (plus one) to rotate through.
const MaxRetryAttempts = 3

// ValidationBlockTTL is how long a 403 VALIDATION_REQUIRED response keeps
// an account out of selection.
const ValidationBlockTTL = 10 * time.Minute

// ThinkingBetaHeader is the header value set when a request carries both
// thinking and tools, enabling interleaved thinking upstream.
const ThinkingBetaHeader = "interleaved-thinking-2025-05-14"

// Debug sink payload kinds, matching debugsink.Kind's string values without
// importing that package — the dispatch engine only depends on the narrow
// DebugSink interface in deps.go.
const (
	debugKindOriginalRequest     = "original_request"
	debugKindV1InternalRequest   = "v1internal_request"
	debugKindUpstreamResponse    = "upstream_response"
	debugKindUpstreamResponseErr = "upstream_response_error"
)

var validationRequiredMarkers = []string{"VALIDATION_REQUIRED"}

func isValidationRequired(body string) bool {
	for _, marker := range validationRequiredMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

var tooLongMarkers = []string{"too long", "exceeds", "limit"}

func isTooLongError(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range tooLongMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// clampMaxAttempts bounds MaxRetryAttempts to [2, poolSize+1], per §4.6.
func clampMaxAttempts(poolSize int) int {
	max := MaxRetryAttempts
	upper := poolSize + 1
	if max > upper {
		max = upper
	}
	if max < 2 {
		max = 2
	}
	return max
}

// StrategyKind enumerates the retry-timing strategies the attempt loop can
// apply between attempts.
type StrategyKind string

const (
	StrategyFixedDelay          StrategyKind = "fixed_delay"
	StrategyExponentialBackoff StrategyKind = "exponential_backoff"
	StrategyNoRetry             StrategyKind = "no_retry"
)

// RetryStrategy is the timing decision for one attempt's failure.
type RetryStrategy struct {
	Kind StrategyKind
	// Delay is used by FixedDelay.
	Delay time.Duration
	// Base/Max are used by ExponentialBackoff.
	Base time.Duration
	Max  time.Duration
}

// DetermineRetryStrategy maps an upstream failure to a retry timing
// strategy, per §4.6's error classification table.
func DetermineRetryStrategy(status int, body string, retriedWithoutThinking bool) RetryStrategy {
	switch {
	case status == 0:
		return RetryStrategy{Kind: StrategyExponentialBackoff, Base: 500 * time.Millisecond, Max: 10 * time.Second}

	case status == 400 && isSignatureMarkerError(body) && !retriedWithoutThinking:
		return RetryStrategy{Kind: StrategyFixedDelay, Delay: 200 * time.Millisecond}

	case status == 400 && isTooLongError(body):
		return RetryStrategy{Kind: StrategyNoRetry}

	case status == 400:
		return RetryStrategy{Kind: StrategyNoRetry}

	case status == 401:
		return RetryStrategy{Kind: StrategyNoRetry}

	case status == 402 || status == 429:
		return RetryStrategy{Kind: StrategyExponentialBackoff, Base: time.Second, Max: 30 * time.Second}

	case status == 403 && isValidationRequired(body):
		return RetryStrategy{Kind: StrategyNoRetry}

	case status == 500 || status == 503 || status == 529:
		return RetryStrategy{Kind: StrategyExponentialBackoff, Base: 2 * time.Second, Max: 60 * time.Second}

	case status >= 500:
		return RetryStrategy{Kind: StrategyExponentialBackoff, Base: time.Second, Max: 20 * time.Second}

	default:
		return RetryStrategy{Kind: StrategyNoRetry}
	}
}

func isSignatureMarkerError(body string) bool {
	classified := apierrors.Classify(400, body)
	return classified.Kind == apierrors.KindSignature
}

// ApplyRetryStrategy reports whether the loop should continue (true) and
// sleeps the appropriate delay when it does. attempt is 0-indexed.
func ApplyRetryStrategy(strategy RetryStrategy, attempt, maxAttempts int, sleep func(time.Duration)) bool {
	if strategy.Kind == StrategyNoRetry {
		return false
	}
	if attempt+1 >= maxAttempts {
		return false
	}

	switch strategy.Kind {
	case StrategyFixedDelay:
		sleep(strategy.Delay)
	case StrategyExponentialBackoff:
		d := strategy.Base << uint(attempt)
		if d > strategy.Max || d <= 0 {
			d = strategy.Max
		}
		sleep(d)
	}
	return true
}

// ClaudeErrorType maps a final exhausted status code to the Claude-schema
// error-type enum surfaced to the client.
func ClaudeErrorType(status int) string {
	switch status {
	case 400:
		return "invalid_request_error"
	case 401:
		return "authentication_error"
	case 403:
		return "permission_error"
	case 429:
		return "rate_limit_error"
	case 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// BuildClaudeError renders the final Claude-schema error envelope the HTTP
// handler writes back when every attempt has been exhausted.
func BuildClaudeError(status int, message string) map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    ClaudeErrorType(status),
			"message": message,
		},
	}
}
