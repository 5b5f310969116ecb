package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SignatureStore caches the opaque thought signatures Gemini issues for tool
// calls and thinking blocks, so a later turn can echo them back upstream
// without re-deriving them. Redis-backed with an in-memory fallback, like the
// rest of this package.
type SignatureStore struct {
	client *Client
	memory *MemoryCache
}

func NewSignatureStore(client *Client, memory *MemoryCache) *SignatureStore {
	return &SignatureStore{client: client, memory: memory}
}

// SignatureTTL bounds how long a signature is trusted before a fresh one must
// be requested from upstream.
const SignatureTTL = 2 * time.Hour

// ThinkingSignatureInfo is the cached metadata for a thinking-block signature.
type ThinkingSignatureInfo struct {
	ModelFamily string    `json:"modelFamily"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *SignatureStore) hasRedis() bool { return s.client != nil }

// ============================================================
// Tool-use signatures
// ============================================================

func (s *SignatureStore) GetToolSignature(ctx context.Context, toolUseID string) (string, error) {
	key := PrefixSignatureTool + toolUseID

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			return v.(string), nil
		}
		return "", nil
	}

	sig, err := s.client.GetString(ctx, key)
	if err != nil {
		if IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return sig, nil
}

func (s *SignatureStore) SetToolSignature(ctx context.Context, toolUseID, signature string) error {
	key := PrefixSignatureTool + toolUseID

	if !s.hasRedis() {
		s.memory.Set(key, signature, SignatureTTL)
		return nil
	}

	return s.client.SetString(ctx, key, signature, SignatureTTL)
}

func (s *SignatureStore) ClearToolSignature(ctx context.Context, toolUseID string) error {
	key := PrefixSignatureTool + toolUseID
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Thinking-block signatures
// ============================================================

func (s *SignatureStore) GetThinkingSignatureFamily(ctx context.Context, signature string) (string, error) {
	key := PrefixSignatureThinking + hashSignature(signature)

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			return v.(ThinkingSignatureInfo).ModelFamily, nil
		}
		return "", nil
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return "", err
	}
	return data["modelFamily"], nil
}

func (s *SignatureStore) SetThinkingSignature(ctx context.Context, signature, modelFamily string) error {
	key := PrefixSignatureThinking + hashSignature(signature)

	if !s.hasRedis() {
		s.memory.Set(key, ThinkingSignatureInfo{ModelFamily: modelFamily, Timestamp: time.Now()}, SignatureTTL)
		return nil
	}

	values := map[string]interface{}{
		"modelFamily": modelFamily,
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, SignatureTTL)
}

func (s *SignatureStore) IsThinkingSignatureKnown(ctx context.Context, signature string) (bool, error) {
	key := PrefixSignatureThinking + hashSignature(signature)

	if !s.hasRedis() {
		_, ok := s.memory.Get(key)
		return ok, nil
	}

	return s.client.Exists(ctx, key)
}

func (s *SignatureStore) ClearThinkingSignature(ctx context.Context, signature string) error {
	key := PrefixSignatureThinking + hashSignature(signature)
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Batch operations
// ============================================================

func (s *SignatureStore) ClearAllSignatures(ctx context.Context) error {
	if !s.hasRedis() {
		for _, key := range s.memory.KeysWithPrefix(PrefixSignatureTool) {
			s.memory.Delete(key)
		}
		for _, key := range s.memory.KeysWithPrefix(PrefixSignatureThinking) {
			s.memory.Delete(key)
		}
		return nil
	}

	toolKeys, err := s.client.ScanAll(ctx, PrefixSignatureTool+"*")
	if err != nil {
		return err
	}
	if len(toolKeys) > 0 {
		if err := s.client.Delete(ctx, toolKeys...); err != nil {
			return err
		}
	}

	thinkingKeys, err := s.client.ScanAll(ctx, PrefixSignatureThinking+"*")
	if err != nil {
		return err
	}
	if len(thinkingKeys) > 0 {
		if err := s.client.Delete(ctx, thinkingKeys...); err != nil {
			return err
		}
	}

	return nil
}

func (s *SignatureStore) GetSignatureStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	if !s.hasRedis() {
		stats["tool"] = int64(len(s.memory.KeysWithPrefix(PrefixSignatureTool)))
		stats["thinking"] = int64(len(s.memory.KeysWithPrefix(PrefixSignatureThinking)))
		stats["total"] = stats["tool"] + stats["thinking"]
		return stats, nil
	}

	toolKeys, err := s.client.ScanAll(ctx, PrefixSignatureTool+"*")
	if err != nil {
		return nil, err
	}
	stats["tool"] = int64(len(toolKeys))

	thinkingKeys, err := s.client.ScanAll(ctx, PrefixSignatureThinking+"*")
	if err != nil {
		return nil, err
	}
	stats["thinking"] = int64(len(thinkingKeys))
	stats["total"] = stats["tool"] + stats["thinking"]

	return stats, nil
}

// ============================================================
// Validation blocks
//
// Distinct from rate limiting: a validation block marks an account whose
// upstream credentials were rejected outright (not merely throttled). The
// store keeps the record with no expiry of its own; the dispatch engine
// ignores a block older than its ValidationBlockTTL (10 minutes).
// ============================================================

type ValidationBlock struct {
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blockedAt"`
}

func (s *SignatureStore) GetValidationBlock(ctx context.Context, email string) (*ValidationBlock, error) {
	key := PrefixValidationBlock + email

	if !s.hasRedis() {
		if v, ok := s.memory.Get(key); ok {
			b := v.(ValidationBlock)
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

	block := &ValidationBlock{Reason: data["reason"]}
	if v, ok := data["blockedAt"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			block.BlockedAt = t
		}
	}
	return block, nil
}

func (s *SignatureStore) SetValidationBlock(ctx context.Context, email, reason string) error {
	key := PrefixValidationBlock + email
	block := ValidationBlock{Reason: reason, BlockedAt: time.Now()}

	if !s.hasRedis() {
		s.memory.Set(key, block, 0)
		return nil
	}

	values := map[string]interface{}{
		"reason":    block.Reason,
		"blockedAt": block.BlockedAt.Format(time.RFC3339),
	}
	return s.client.HSet(ctx, key, values)
}

func (s *SignatureStore) ClearValidationBlock(ctx context.Context, email string) error {
	key := PrefixValidationBlock + email
	if !s.hasRedis() {
		s.memory.Delete(key)
		return nil
	}
	return s.client.Delete(ctx, key)
}

// ============================================================
// Helpers
// ============================================================

func hashSignature(signature string) string {
	hash := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(hash[:])
}

func IsValidSignature(signature string) bool {
	return len(signature) >= 50
}
