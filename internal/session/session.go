// Package session implements the session manager (C9): deriving a stable,
// low-entropy fingerprint for an inbound request so repeated turns of the
// same conversation land on the same upstream session, keeping prompt
// caching effective.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// ExtractSessionID derives a session id from system prompt + first user
// message + tool-set signature. Semantically equivalent requests (same
// system prompt, same opening message, same tools) map to the same id even
// across turns that have since accumulated more history, since only the
// stable prefix of the conversation is hashed.
func ExtractSessionID(request *anthropic.MessagesRequest) string {
	if request == nil {
		return uuid.New().String()
	}

	sys := systemText(request.System)
	firstUser := firstUserMessageText(request.Messages)
	toolSig := toolSetSignature(request.Tools)

	if sys == "" && firstUser == "" && toolSig == "" {
		return uuid.New().String()
	}

	var b strings.Builder
	b.WriteString(sys)
	b.WriteString("\n---\n")
	b.WriteString(firstUser)
	b.WriteString("\n---\n")
	b.WriteString(toolSig)
	fingerprint := b.String()

	hash := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(hash[:16])
}

// systemText renders the system prompt field, which may be a plain string
// or a list of content blocks, to a single string for hashing.
func systemText(system interface{}) string {
	switch v := system.(type) {
	case string:
		return v
	case []anthropic.ContentBlock:
		var parts []string
		for _, block := range v {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// firstUserMessageText extracts the plain-text content of the first user
// message in the conversation, the part of history least likely to be
// rewritten turn over turn by compression or signature cleansing.
func firstUserMessageText(messages []anthropic.Message) string {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		var parts []string
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// toolSetSignature reduces the tool list to a sorted, order-independent
// signature of tool names so enabling/disabling an unrelated tool changes
// the session id but reordering the same tool list does not.
func toolSetSignature(tools []anthropic.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
