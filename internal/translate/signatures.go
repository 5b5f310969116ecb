// Package translate implements the Claude<->Gemini translator (C4): request
// and response shape conversion, the thinking/signature subprotocol, JSON
// Schema sanitization for tool definitions, and the streaming SSE rewriter.
package translate

import (
	"context"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
)

// SignatureTracker is the subset of internal/store.SignatureStore the
// translator needs. Defined locally so content.go and thinking.go don't take
// a hard dependency on the store package's constructor wiring.
type SignatureTracker interface {
	GetToolSignature(ctx context.Context, toolUseID string) (string, error)
	SetToolSignature(ctx context.Context, toolUseID, signature string) error
	GetThinkingSignatureFamily(ctx context.Context, signature string) (string, error)
	SetThinkingSignature(ctx context.Context, signature, modelFamily string) error
}

var _ SignatureTracker = (*store.SignatureStore)(nil)

// IsValidSignature reports whether a thought signature is long enough to be
// trusted. Gemini issues signatures well past this length; anything shorter
// is either truncated or a placeholder and must be treated as absent.
func IsValidSignature(signature string) bool {
	return len(signature) >= config.MinSignatureLength
}

// CacheToolSignature stashes a tool_use block's thought signature so it can
// be restored on a later turn if the caller strips it before replaying the
// message back to us.
func CacheToolSignature(ctx context.Context, tracker SignatureTracker, toolUseID, signature string) {
	if tracker == nil || toolUseID == "" || !IsValidSignature(signature) {
		return
	}
	_ = tracker.SetToolSignature(ctx, toolUseID, signature)
}

// RestoreToolSignature looks up a previously cached signature for a tool_use
// ID. Returns "" if none is cached or the tracker is unset.
func RestoreToolSignature(ctx context.Context, tracker SignatureTracker, toolUseID string) string {
	if tracker == nil || toolUseID == "" {
		return ""
	}
	sig, err := tracker.GetToolSignature(ctx, toolUseID)
	if err != nil {
		return ""
	}
	return sig
}

// CacheThinkingSignature records which model family issued a thinking
// signature, so a later request can tell whether replaying it to a
// different-family model would be rejected upstream.
func CacheThinkingSignature(ctx context.Context, tracker SignatureTracker, signature, modelFamily string) {
	if tracker == nil || !IsValidSignature(signature) {
		return
	}
	_ = tracker.SetThinkingSignature(ctx, signature, modelFamily)
}

// SignatureFamily returns the model family that issued a signature, or ""
// if unknown.
func SignatureFamily(ctx context.Context, tracker SignatureTracker, signature string) string {
	if tracker == nil || signature == "" {
		return ""
	}
	family, err := tracker.GetThinkingSignatureFamily(ctx, signature)
	if err != nil {
		return ""
	}
	return family
}
