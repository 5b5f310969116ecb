// Package apierrors defines the dispatch engine's error taxonomy and the
// single classifier the dispatch loop, account manager, and HTTP handlers
// all consult instead of each re-deriving "is this a rate limit?" from a
// status code and an error string.
package apierrors

import (
	"strings"
)

// Kind is the classified error family a failed upstream call falls into.
type Kind string

const (
	KindRateLimit         Kind = "RATE_LIMITED"
	KindAuth              Kind = "AUTH_INVALID"
	KindNoAccounts        Kind = "NO_ACCOUNTS"
	KindMaxRetries        Kind = "MAX_RETRIES"
	KindAPI               Kind = "API_ERROR"
	KindEmptyResponse     Kind = "EMPTY_RESPONSE"
	KindCapacityExhausted Kind = "CAPACITY_EXHAUSTED"
	KindSignature         Kind = "SIGNATURE_ERROR"
	KindNetwork           Kind = "NETWORK_ERROR"
	KindUnknown           Kind = "UNKNOWN"
)

// Error is the concrete error type every classified failure is wrapped in.
type Error struct {
	Kind         Kind
	Message      string
	StatusCode   int
	Retryable    bool
	AccountEmail string
	ResetMs      *int64
	Metadata     map[string]interface{}
	cause        error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.cause }

// New wraps an existing error with a classification.
func New(kind Kind, message string, statusCode int, retryable bool) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusCode, Retryable: retryable}
}

// Wrap classifies err (by status code first, falling back to marker
// matching on its message) and attaches it as the cause.
func Wrap(err error, statusCode int) *Error {
	if err == nil {
		return nil
	}
	if existing, ok := err.(*Error); ok {
		return existing
	}
	classified := Classify(statusCode, err.Error())
	classified.cause = err
	return classified
}

// signatureErrorMarkers are substrings the upstream embeds in its error body
// when a thinking-block signature was missing, malformed, or mismatched.
var signatureErrorMarkers = []string{
	"Invalid `signature`",
	"thinking.signature: Field required",
	"thinking.thinking: Field required",
	"Corrupted thought signature",
	"failed to deserialise",
	"Invalid signature",
	"thinking block",
	"Found `text`",
	"Found 'text'",
	"must be `thinking`",
	"must be 'thinking'",
}

// Classify derives a Kind from an HTTP status code and the upstream error
// body/message, consolidating what used to be several duplicated
// isRateLimitError/isAuthError/is5xxError string matchers into one place.
func Classify(statusCode int, message string) *Error {
	lower := strings.ToLower(message)

	if containsAny(message, signatureErrorMarkers) {
		return &Error{Kind: KindSignature, Message: message, StatusCode: statusCode, Retryable: true}
	}

	switch {
	case statusCode == 401:
		return &Error{Kind: KindAuth, Message: message, StatusCode: statusCode, Retryable: false}
	case statusCode == 402 || statusCode == 403:
		return &Error{Kind: KindAuth, Message: message, StatusCode: statusCode, Retryable: false}
	case statusCode == 429:
		return &Error{Kind: KindRateLimit, Message: message, StatusCode: statusCode, Retryable: true}
	case statusCode >= 500:
		if strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "capacity") {
			return &Error{Kind: KindCapacityExhausted, Message: message, StatusCode: statusCode, Retryable: true}
		}
		return &Error{Kind: KindAPI, Message: message, StatusCode: statusCode, Retryable: true}
	case statusCode >= 400:
		return &Error{Kind: KindAPI, Message: message, StatusCode: statusCode, Retryable: false}
	}

	// No usable status code (e.g. a transport failure): fall back to marker matching.
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota_exhausted") || strings.Contains(lower, "rate limit"):
		return &Error{Kind: KindRateLimit, Message: message, StatusCode: 429, Retryable: true}
	case strings.Contains(lower, "invalid_grant") || strings.Contains(lower, "token has been expired or revoked") ||
		strings.Contains(lower, "token refresh failed"):
		return &Error{Kind: KindAuth, Message: message, StatusCode: 401, Retryable: false}
	case IsNetworkMessage(lower):
		return &Error{Kind: KindNetwork, Message: message, StatusCode: 0, Retryable: true}
	default:
		return &Error{Kind: KindUnknown, Message: message, StatusCode: statusCode, Retryable: false}
	}
}

// IsNetworkMessage reports whether a lowercased message looks like a
// transport-level failure rather than an upstream API error.
func IsNetworkMessage(lower string) bool {
	return containsAny(lower, []string{
		"fetch failed", "network error", "connection reset", "connection refused",
		"no such host", "timeout", "i/o timeout", "eof",
	})
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ShouldRotateAccount reports whether the dispatch loop should move to a
// different account before retrying, versus retrying the same account.
// Default: true for 401/402/403/429 (the account itself is the problem),
// false for 5xx (the upstream is the problem, another account won't help).
func ShouldRotateAccount(kind Kind) bool {
	switch kind {
	case KindAuth, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsRateLimitError reports whether err is an *Error with a rate-limit
// classification. Wrapped errors are not unwrapped.
func IsRateLimitError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindRateLimit
}

// IsAuthError reports whether err is an *Error with an auth classification.
// Wrapped errors are not unwrapped.
func IsAuthError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindAuth
}

// IsSignatureError reports whether err is an *Error with a signature
// classification. Wrapped errors are not unwrapped.
func IsSignatureError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindSignature
}

// IsCapacityExhausted reports whether err is an *Error with a capacity
// classification. Wrapped errors are not unwrapped.
func IsCapacityExhausted(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindCapacityExhausted
}

// HTTPStatus maps a classified error back to the status code the dispatch
// engine's own HTTP surface should return to the caller.
func HTTPStatus(e *Error) int {
	switch e.Kind {
	case KindRateLimit:
		return 429
	case KindAuth:
		return 401
	case KindNoAccounts:
		return 503
	case KindMaxRetries:
		return 503
	case KindAPI:
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return 500
	case KindEmptyResponse:
		return 502
	case KindCapacityExhausted:
		return 503
	default:
		return 500
	}
}

// ToJSON renders the Claude-schema error envelope: {"type":"error","error":{...}}.
func (e *Error) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    strings.ToLower(string(e.Kind)),
			"message": e.Message,
		},
	}
}

// NoAccountsError is raised when C1 has no account to offer for a request.
func NoAccountsError(allRateLimited bool) *Error {
	msg := "no accounts available"
	if allRateLimited {
		msg = "all accounts are rate limited"
	}
	return &Error{Kind: KindNoAccounts, Message: msg, Retryable: allRateLimited,
		Metadata: map[string]interface{}{"all_rate_limited": allRateLimited}}
}

// MaxRetriesError is raised when the dispatch loop exhausts its attempt budget.
func MaxRetriesError(attempts int) *Error {
	return &Error{Kind: KindMaxRetries, Message: "max retries exceeded", Retryable: false,
		Metadata: map[string]interface{}{"attempts": attempts}}
}

// EmptyResponseError is raised when the upstream returns a 2xx with no usable content.
func EmptyResponseError() *Error {
	return &Error{Kind: KindEmptyResponse, Message: "upstream returned an empty response", Retryable: true}
}
