package translate

import (
	"context"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// CleanCacheControl strips cache_control hints from every content block.
// Upstream rejects the field outright, so it must never survive translation
// even though Claude clients attach it by default.
func CleanCacheControl(messages []anthropic.Message) []anthropic.Message {
	if len(messages) == 0 {
		return messages
	}
	cleaned := make([]anthropic.Message, len(messages))
	for i, msg := range messages {
		if len(msg.Content) == 0 {
			cleaned[i] = msg
			continue
		}
		content := make([]anthropic.ContentBlock, len(msg.Content))
		for j, block := range msg.Content {
			block.CacheControl = nil
			content[j] = block
		}
		cleaned[i] = anthropic.Message{Role: msg.Role, Content: content}
	}
	return cleaned
}

// MergeConsecutiveMessages combines adjacent same-role messages, since
// Gemini requires strict user/model alternation and Claude clients sometimes
// emit back-to-back messages of the same role (e.g. two tool results split
// across separate user turns).
func MergeConsecutiveMessages(messages []anthropic.Message) []anthropic.Message {
	if len(messages) == 0 {
		return messages
	}
	merged := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		if n := len(merged); n > 0 && merged[n-1].Role == msg.Role {
			merged[n-1].Content = append(merged[n-1].Content, msg.Content...)
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}

func isThinkingPart(block anthropic.ContentBlock) bool {
	return block.Type == "thinking" || block.Type == "redacted_thinking"
}

func blockSignature(block anthropic.ContentBlock) string {
	if block.ThoughtSignature != "" {
		return block.ThoughtSignature
	}
	return block.Signature
}

func hasValidSignatureBlock(block anthropic.ContentBlock) bool {
	return IsValidSignature(blockSignature(block))
}

// HasGeminiHistory reports whether any tool_use block in the conversation
// carries a Gemini-issued thought signature, meaning the history originated
// from (or passed through) a Gemini turn.
func HasGeminiHistory(messages []anthropic.Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "tool_use" && block.ThoughtSignature != "" {
				return true
			}
		}
	}
	return false
}

// HasUnsignedThinkingBlocks reports whether any assistant turn carries a
// thinking block that will be dropped for lacking a valid signature.
func HasUnsignedThinkingBlocks(messages []anthropic.Message) bool {
	for _, msg := range messages {
		if msg.Role != "assistant" && msg.Role != "model" {
			continue
		}
		for _, block := range msg.Content {
			if isThinkingPart(block) && !hasValidSignatureBlock(block) {
				return true
			}
		}
	}
	return false
}

func sanitizeThinkingBlock(block anthropic.ContentBlock) anthropic.ContentBlock {
	switch block.Type {
	case "thinking":
		return anthropic.ContentBlock{Type: "thinking", Thinking: block.Thinking, Signature: block.Signature}
	case "redacted_thinking":
		return anthropic.ContentBlock{Type: "redacted_thinking", Data: block.Data}
	default:
		return block
	}
}

func sanitizeTextBlock(block anthropic.ContentBlock) anthropic.ContentBlock {
	if block.Type != "text" {
		return block
	}
	return anthropic.ContentBlock{Type: "text", Text: block.Text}
}

func sanitizeToolUseBlock(block anthropic.ContentBlock) anthropic.ContentBlock {
	if block.Type != "tool_use" {
		return block
	}
	sanitized := anthropic.ContentBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: block.Input}
	if block.ThoughtSignature != "" {
		sanitized.ThoughtSignature = block.ThoughtSignature
	}
	return sanitized
}

// RestoreThinkingSignatures keeps only thinking blocks with a valid
// signature, sanitized down to the fields the wire format needs.
func RestoreThinkingSignatures(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	if len(content) == 0 {
		return content
	}
	filtered := make([]anthropic.ContentBlock, 0, len(content))
	for _, block := range content {
		if block.Type != "thinking" {
			filtered = append(filtered, block)
			continue
		}
		if block.HasValidSignature() {
			filtered = append(filtered, sanitizeThinkingBlock(block))
		}
	}
	return filtered
}

// RemoveTrailingThinkingBlocks trims unsigned thinking blocks off the end of
// an assistant turn's content, stopping at the first signed thinking block
// or non-thinking block encountered working backwards.
func RemoveTrailingThinkingBlocks(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	if len(content) == 0 {
		return content
	}
	end := len(content)
	for i := len(content) - 1; i >= 0; i-- {
		block := content[i]
		if !isThinkingPart(block) {
			break
		}
		if hasValidSignatureBlock(block) {
			break
		}
		end = i
	}
	return content[:end]
}

// ReorderAssistantContent orders a turn's content blocks thinking-first,
// text-middle, tool_use-last. Gemini rejects turns where thinking doesn't
// lead, and tool_use must trail any accompanying explanation.
func ReorderAssistantContent(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	if len(content) == 0 {
		return content
	}
	if len(content) == 1 {
		block := content[0]
		if isThinkingPart(block) {
			return []anthropic.ContentBlock{sanitizeThinkingBlock(block)}
		}
		return content
	}

	var thinking, text, toolUse []anthropic.ContentBlock
	for _, block := range content {
		switch {
		case isThinkingPart(block):
			thinking = append(thinking, sanitizeThinkingBlock(block))
		case block.Type == "tool_use":
			toolUse = append(toolUse, sanitizeToolUseBlock(block))
		case block.Type == "text":
			if block.Text != "" {
				text = append(text, sanitizeTextBlock(block))
			}
		default:
			text = append(text, block)
		}
	}

	reordered := make([]anthropic.ContentBlock, 0, len(thinking)+len(text)+len(toolUse))
	reordered = append(reordered, thinking...)
	reordered = append(reordered, text...)
	reordered = append(reordered, toolUse...)
	return reordered
}

// conversationState is the result of scanning a conversation for a corrupted
// thinking/tool-loop state that needs synthetic recovery messages.
type conversationState struct {
	inToolLoop       bool
	interruptedTool  bool
	turnHasThinking  bool
	toolResultCount  int
	lastAssistantIdx int
}

func analyzeConversationState(messages []anthropic.Message) conversationState {
	state := conversationState{lastAssistantIdx: -1}
	if len(messages) == 0 {
		return state
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" || messages[i].Role == "model" {
			state.lastAssistantIdx = i
			break
		}
	}
	if state.lastAssistantIdx == -1 {
		return state
	}

	lastAssistant := messages[state.lastAssistantIdx]
	hasToolUse := messageHasToolUse(lastAssistant)
	hasThinking := messageHasValidThinking(lastAssistant)

	hasPlainUserAfter := false
	for i := state.lastAssistantIdx + 1; i < len(messages); i++ {
		if messageHasToolResult(messages[i]) {
			state.toolResultCount++
		}
		if isPlainUserMessage(messages[i]) {
			hasPlainUserAfter = true
		}
	}

	state.inToolLoop = hasToolUse && state.toolResultCount > 0
	state.interruptedTool = hasToolUse && state.toolResultCount == 0 && hasPlainUserAfter
	state.turnHasThinking = hasThinking
	return state
}

func messageHasValidThinking(message anthropic.Message) bool {
	for _, block := range message.Content {
		if isThinkingPart(block) && hasValidSignatureBlock(block) {
			return true
		}
	}
	return false
}

func messageHasToolUse(message anthropic.Message) bool {
	for _, block := range message.Content {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}

func messageHasToolResult(message anthropic.Message) bool {
	for _, block := range message.Content {
		if block.Type == "tool_result" {
			return true
		}
	}
	return false
}

func isPlainUserMessage(message anthropic.Message) bool {
	if message.Role != "user" {
		return false
	}
	for _, block := range message.Content {
		if block.Type == "tool_result" {
			return false
		}
	}
	return true
}

// NeedsThinkingRecovery reports whether the conversation is in a tool loop
// or interrupted-tool state with no valid thinking to carry it forward.
func NeedsThinkingRecovery(messages []anthropic.Message) bool {
	state := analyzeConversationState(messages)
	if !state.inToolLoop && !state.interruptedTool {
		return false
	}
	return !state.turnHasThinking
}

// FilterInvalidThinkingBlocksWithFamily drops thinking blocks that lack a
// valid signature outright, and, when targetFamily is "gemini", also drops
// blocks whose cached signature family doesn't match — a Claude-issued
// signature replayed to Gemini (or vice versa) is rejected upstream.
func FilterInvalidThinkingBlocksWithFamily(ctx context.Context, tracker SignatureTracker, messages []anthropic.Message, targetFamily string) []anthropic.Message {
	result := make([]anthropic.Message, 0, len(messages))

	for _, msg := range messages {
		if len(msg.Content) == 0 {
			result = append(result, msg)
			continue
		}

		filtered := make([]anthropic.ContentBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			if !isThinkingPart(block) {
				filtered = append(filtered, block)
				continue
			}
			if !hasValidSignatureBlock(block) {
				continue
			}
			if targetFamily == "gemini" {
				family := SignatureFamily(ctx, tracker, blockSignature(block))
				if family == "" || family != targetFamily {
					continue
				}
			}
			filtered = append(filtered, block)
		}

		// Claude rejects messages with zero content blocks.
		if len(filtered) == 0 {
			filtered = []anthropic.ContentBlock{{Type: "text", Text: "."}}
		}

		result = append(result, anthropic.Message{Role: msg.Role, Content: filtered})
	}

	return result
}

// CloseToolLoopForThinking injects synthetic messages to close out a tool
// loop or acknowledge an interrupted tool call when the conversation has no
// valid thinking to recover from, letting the model start its next turn
// clean instead of upstream rejecting the corrupted history.
func CloseToolLoopForThinking(ctx context.Context, tracker SignatureTracker, messages []anthropic.Message, targetFamily string) []anthropic.Message {
	state := analyzeConversationState(messages)
	if !state.inToolLoop && !state.interruptedTool {
		return messages
	}

	modified := FilterInvalidThinkingBlocksWithFamily(ctx, tracker, messages, targetFamily)

	if state.interruptedTool {
		insertIdx := state.lastAssistantIdx + 1
		synthetic := anthropic.Message{
			Role:    "assistant",
			Content: []anthropic.ContentBlock{{Type: "text", Text: "[Tool call was interrupted.]"}},
		}
		out := make([]anthropic.Message, 0, len(modified)+1)
		out = append(out, modified[:insertIdx]...)
		out = append(out, synthetic)
		out = append(out, modified[insertIdx:]...)
		return out
	}

	// InToolLoop: close it out and let the model begin a fresh turn.
	modified = append(modified, anthropic.Message{
		Role:    "assistant",
		Content: []anthropic.ContentBlock{{Type: "text", Text: "[Tool execution completed.]"}},
	})
	modified = append(modified, anthropic.Message{
		Role:    "user",
		Content: []anthropic.ContentBlock{{Type: "text", Text: "[Continue]"}},
	})
	return modified
}
