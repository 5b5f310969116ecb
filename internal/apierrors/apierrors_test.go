package apierrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_StatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		message    string
		wantKind   Kind
		wantRetry  bool
	}{
		{"unauthorized", 401, "invalid token", KindAuth, false},
		{"forbidden", 403, "forbidden", KindAuth, false},
		{"rate limited", 429, "too many requests", KindRateLimit, true},
		{"server error", 500, "internal error", KindAPI, true},
		{"capacity exhausted", 503, "RESOURCE_EXHAUSTED: model overloaded", KindCapacityExhausted, true},
		{"bad request", 400, "bad request", KindAPI, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.statusCode, tc.message)
			assert.Equal(t, tc.wantKind, got.Kind)
			assert.Equal(t, tc.wantRetry, got.Retryable)
		})
	}
}

func TestClassify_SignatureMarkersOverrideStatusCode(t *testing.T) {
	got := Classify(400, "thinking.signature: Field required")
	assert.Equal(t, KindSignature, got.Kind)
	assert.True(t, got.Retryable)
}

func TestClassify_NoStatusCodeFallsBackToMessageMarkers(t *testing.T) {
	got := Classify(0, "upstream returned invalid_grant during token refresh")
	assert.Equal(t, KindAuth, got.Kind)

	got = Classify(0, "connection reset by peer")
	assert.Equal(t, KindNetwork, got.Kind)
	assert.True(t, got.Retryable)
}

func TestShouldRotateAccount(t *testing.T) {
	assert.True(t, ShouldRotateAccount(KindAuth))
	assert.True(t, ShouldRotateAccount(KindRateLimit))
	assert.False(t, ShouldRotateAccount(KindAPI))
	assert.False(t, ShouldRotateAccount(KindCapacityExhausted))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 429, HTTPStatus(&Error{Kind: KindRateLimit}))
	assert.Equal(t, 401, HTTPStatus(&Error{Kind: KindAuth}))
	assert.Equal(t, 503, HTTPStatus(&Error{Kind: KindCapacityExhausted}))
	assert.Equal(t, 502, HTTPStatus(&Error{Kind: KindEmptyResponse}))
	assert.Equal(t, 418, HTTPStatus(&Error{Kind: KindAPI, StatusCode: 418}))
}

func TestNoAccountsError(t *testing.T) {
	e := NoAccountsError(true)
	assert.Equal(t, KindNoAccounts, e.Kind)
	assert.True(t, e.Retryable)
	assert.Equal(t, true, e.Metadata["all_rate_limited"])
}

func TestWrap_PreservesExistingClassification(t *testing.T) {
	original := New(KindRateLimit, "rate limited", 429, true)
	wrapped := Wrap(original, 500)
	assert.Same(t, original, wrapped)
}
