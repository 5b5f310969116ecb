package translate

import (
	"context"
	"encoding/json"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// GoogleCandidate/GoogleResponse model the non-streaming v1internal response
// envelope, which nests candidates either directly or under a "response"
// field depending on endpoint.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []GoogleCandidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

type GoogleResponseInner struct {
	Candidates    []GoogleCandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata    `json:"usageMetadata,omitempty"`
}

type GoogleCandidate struct {
	Content      *GoogleContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

func unwrapCandidates(resp *GoogleResponse) ([]GoogleCandidate, *UsageMetadata) {
	if resp.Response != nil {
		return resp.Response.Candidates, resp.Response.UsageMetadata
	}
	return resp.Candidates, resp.UsageMetadata
}

func mapFinishReason(reason string, hasToolCalls bool) string {
	switch {
	case reason == "MAX_TOKENS":
		return "max_tokens"
	case reason == "TOOL_USE" || hasToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// TransformResponse converts one non-streaming upstream response into a
// Claude Messages API response. When scalingEnabled, the reported
// prompt-token count is scaled to contextLimit so a client's context-window math
// matches what was actually charged against a 1M/2M-token physical budget
// rather than the raw estimate the calibrator produced.
func TransformResponse(ctx context.Context, tracker SignatureTracker, resp *GoogleResponse, model string, scalingEnabled bool, contextLimit, rawEstimate int) *anthropic.MessagesResponse {
	candidates, usage := unwrapCandidates(resp)

	var first GoogleCandidate
	if len(candidates) > 0 {
		first = candidates[0]
	}
	var parts []GooglePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	content := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false
	modelFamily := string(config.GetModelFamily(model))

	for _, part := range parts {
		switch {
		case part.Text != "" && part.Thought:
			if IsValidSignature(part.ThoughtSignature) {
				CacheThinkingSignature(ctx, tracker, part.ThoughtSignature, modelFamily)
			}
			content = append(content, anthropic.ContentBlock{Type: "thinking", Thinking: part.Text, Signature: part.ThoughtSignature})

		case part.Text != "":
			content = append(content, anthropic.ContentBlock{Type: "text", Text: part.Text})

		case part.FunctionCall != nil:
			hasToolCalls = true
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = anthropic.GenerateToolUseID()
			}
			var input json.RawMessage
			if part.FunctionCall.Args != nil {
				input, _ = json.Marshal(part.FunctionCall.Args)
			} else {
				input = json.RawMessage("{}")
			}
			block := anthropic.ContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name, Input: input}
			if IsValidSignature(part.ThoughtSignature) {
				block.ThoughtSignature = part.ThoughtSignature
				CacheToolSignature(ctx, tracker, toolID, part.ThoughtSignature)
			}
			content = append(content, block)

		case part.InlineData != nil:
			content = append(content, anthropic.ContentBlock{
				Type:   "image",
				Source: &anthropic.ImageSource{Type: "base64", MediaType: part.InlineData.MimeType, Data: part.InlineData.Data},
			})
		}
	}

	if len(content) == 0 {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	var promptTokens, cachedTokens, outputTokens int
	if usage != nil {
		promptTokens = usage.PromptTokenCount
		cachedTokens = usage.CachedContentTokenCount
		outputTokens = usage.CandidatesTokenCount
	}
	if scalingEnabled && rawEstimate > 0 && promptTokens > 0 {
		promptTokens = scaleToContextLimit(promptTokens, rawEstimate, contextLimit)
	}

	return &anthropic.MessagesResponse{
		ID:         anthropic.GenerateMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: mapFinishReason(first.FinishReason, hasToolCalls),
		Usage: &anthropic.Usage{
			InputTokens:          promptTokens - cachedTokens,
			OutputTokens:         outputTokens,
			CacheReadInputTokens: cachedTokens,
		},
	}
}

// scaleToContextLimit rescales a reported prompt-token count proportionally
// against the calibrated raw estimate, so a client computing remaining
// context headroom sees numbers consistent with contextLimit rather than
// upstream's own (differently-tokenized) accounting.
func scaleToContextLimit(reported, rawEstimate, contextLimit int) int {
	if rawEstimate <= 0 {
		return reported
	}
	scaled := reported * contextLimit / rawEstimate
	if scaled < reported {
		return reported
	}
	return scaled
}
