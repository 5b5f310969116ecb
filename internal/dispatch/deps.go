// Package dispatch implements the dispatch engine (C6): the per-request
// attempt loop that ties account leasing, model routing, context
// compression, Claude<->Gemini translation, and the upstream client
// together, with retry, account rotation, and error classification.
package dispatch

import (
	"context"

	"github.com/antigravity-oss/dispatch-engine/internal/contextmgr"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
	"github.com/antigravity-oss/dispatch-engine/internal/translate"
	"github.com/antigravity-oss/dispatch-engine/internal/upstream"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// AccountManager is the subset of token.Manager the dispatch loop leases
// accounts and reports outcomes through.
type AccountManager interface {
	SelectAccount(ctx context.Context, modelID string, options token.SelectOptions) (*token.SelectionResult, error)
	GetTokenForAccount(ctx context.Context, acc *store.Account) (string, error)
	NotifySuccess(account *store.Account, modelID string)
	NotifyFailure(account *store.Account, modelID string)
	MarkRateLimited(ctx context.Context, account *store.Account, modelID string, resetMs int64) error
	MarkCapacityExhausted(ctx context.Context, account *store.Account, modelID string) error
	MarkInvalid(ctx context.Context, email, reason string) error
	GetAccountCount() int
	IsAllRateLimited(modelID string) bool
}

var _ AccountManager = (*token.Manager)(nil)

// UpstreamCaller is the subset of upstream.Client the dispatch loop needs.
type UpstreamCaller interface {
	CallV1InternalWithHeaders(ctx context.Context, method upstream.Method, accessToken string, body []byte, extraHeaders map[string]string) (*upstream.Response, error)
}

var _ UpstreamCaller = (*upstream.Client)(nil)

// ValidationBlocker is the subset of store.SignatureStore's validation-block
// bookkeeping the dispatch loop consults and updates.
type ValidationBlocker interface {
	GetValidationBlock(ctx context.Context, email string) (*store.ValidationBlock, error)
	SetValidationBlock(ctx context.Context, email, reason string) error
}

var _ ValidationBlocker = (*store.SignatureStore)(nil)

// FallbackProvider is the external collaborator the provider arbiter hands
// requests to when use_fallback is true. Out of this module's scope beyond
// the call shape; a real implementation lives wherever that provider's
// client is wired.
type FallbackProvider interface {
	ForwardAnthropicJSON(ctx context.Context, request *anthropic.MessagesRequest, traceID string) (*anthropic.MessagesResponse, error)
}

// DebugSink is the subset of C8 the dispatch loop writes through. A nil
// DebugSink (or one whose IsEnabled returns false) disables tracing with
// no behavioral effect otherwise.
type DebugSink interface {
	IsEnabled() bool
	WritePayload(traceID, kind string, payload interface{})
}

// Request is one inbound call to the dispatch engine.
type Request struct {
	Anthropic          *anthropic.MessagesRequest
	ClientWantsStream  bool
	TraceID            string
	UserModelOverrides map[string]string
}

// Result is what a successful Dispatch call returns. Exactly one of
// Response or (StreamEvents, StreamRaw) is populated, matching whether the
// client asked for a streaming response.
type Result struct {
	AccountEmail    string
	MappedModel     string
	ContextPurified bool

	Response *anthropic.MessagesResponse

	StreamEvents <-chan translate.StreamEvent
	StreamRaw    <-chan string
}

// compressionSummarizer adapts RunCompression's L3 fork-and-summarize step
// onto a single extra non-streaming dispatch call against the same engine,
// so the summary call goes through the exact same leasing/translation path
// as a normal request instead of a bespoke side channel.
type compressionSummarizer struct {
	engine *Engine
	ctx    context.Context
}

var _ contextmgr.Summarizer = (*compressionSummarizer)(nil)

func (s *compressionSummarizer) Summarize(ctx context.Context, messages []anthropic.Message, traceID string) (string, error) {
	req := &Request{
		Anthropic: &anthropic.MessagesRequest{
			Model:     "gemini-3-flash",
			MaxTokens: 2048,
			Messages:  messages,
		},
		ClientWantsStream: false,
		TraceID:           traceID + "-summary",
	}
	result, err := s.engine.Dispatch(ctx, req)
	if err != nil {
		return "", err
	}
	return extractText(result.Response), nil
}

func extractText(resp *anthropic.MessagesResponse) string {
	if resp == nil {
		return ""
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
