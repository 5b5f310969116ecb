package translate

import (
	"context"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// GenerationConfig mirrors Gemini's generationConfig object. Thinking budget
// fields are duplicated in both casing because the two model families read
// different keys off the same wire shape.
type GenerationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

type ThinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  int  `json:"thinking_budget,omitempty"`

	IncludeThoughtsGemini bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetGemini  int  `json:"thinkingBudget,omitempty"`
}

type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

// GoogleRequest is the v1internal request body the dispatch engine sends
// upstream in place of the inbound Claude/OpenAI/Gemini-format request.
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

const interleavedThinkingHint = "Interleaved thinking is enabled. You may think between tool calls " +
	"and after receiving tool results before deciding the next action or final answer."

// TransformClaudeRequestIn builds the upstream request body for one attempt.
// retriedWithoutThinking strips thinking entirely — both the generation
// config and any thinking/redacted_thinking blocks in history — for the
// retry attempt issued after upstream rejects a signature.
func TransformClaudeRequestIn(ctx context.Context, tracker SignatureTracker, request *anthropic.MessagesRequest, physicalModel string, retriedWithoutThinking bool) *GoogleRequest {
	modelFamily := config.GetModelFamily(physicalModel)
	isClaudeModel := modelFamily == config.ModelFamilyClaude
	isGeminiModel := modelFamily == config.ModelFamilyGemini
	isThinking := config.IsThinkingModel(physicalModel) && !retriedWithoutThinking

	messages := CleanCacheControl(request.Messages)
	messages = MergeConsecutiveMessages(messages)

	out := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(messages)),
		GenerationConfig: &GenerationConfig{},
	}

	out.SystemInstruction = buildSystemInstruction(request.System)

	if isClaudeModel && isThinking && len(request.Tools) > 0 {
		appendSystemHint(out, interleavedThinkingHint)
	}

	processed := messages
	targetFamily := string(modelFamily)
	if isGeminiModel && NeedsThinkingRecovery(messages) {
		processed = CloseToolLoopForThinking(ctx, tracker, messages, targetFamily)
	} else if isClaudeModel && (HasGeminiHistory(messages) || HasUnsignedThinkingBlocks(messages)) && NeedsThinkingRecovery(messages) {
		processed = CloseToolLoopForThinking(ctx, tracker, messages, targetFamily)
	}

	for _, msg := range processed {
		content := msg.Content
		if (msg.Role == "assistant" || msg.Role == "model") && len(content) > 0 {
			if retriedWithoutThinking {
				content = stripThinkingBlocks(content)
			} else {
				content = RestoreThinkingSignatures(content)
				content = RemoveTrailingThinkingBlocks(content)
				content = ReorderAssistantContent(content)
			}
		}

		parts := ConvertContentToParts(ctx, tracker, content, isClaudeModel, isGeminiModel)
		if len(parts) == 0 {
			parts = []GooglePart{{Text: "."}}
		}

		out.Contents = append(out.Contents, GoogleContent{Role: ConvertRole(msg.Role), Parts: parts})
	}

	if isClaudeModel {
		out.Contents = dropUnsignedThoughtParts(out.Contents)
	}

	applyGenerationConfig(out, request)
	if isThinking {
		applyThinkingConfig(out, request, isClaudeModel, isGeminiModel)
	}
	if len(request.Tools) > 0 {
		applyTools(out, request.Tools, isClaudeModel)
	}

	if isGeminiModel && out.GenerationConfig.MaxOutputTokens > config.GeminiMaxOutputTokens {
		out.GenerationConfig.MaxOutputTokens = config.GeminiMaxOutputTokens
	}

	return out
}

func buildSystemInstruction(system interface{}) *GoogleContent {
	var parts []GooglePart
	switch s := system.(type) {
	case string:
		if s != "" {
			parts = append(parts, GooglePart{Text: s})
		}
	case []anthropic.ContentBlock:
		for _, block := range s {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &GoogleContent{Parts: parts}
}

func appendSystemHint(out *GoogleRequest, hint string) {
	if out.SystemInstruction == nil {
		out.SystemInstruction = &GoogleContent{Parts: []GooglePart{{Text: hint}}}
		return
	}
	if n := len(out.SystemInstruction.Parts); n > 0 && out.SystemInstruction.Parts[n-1].Text != "" {
		out.SystemInstruction.Parts[n-1].Text += "\n\n" + hint
		return
	}
	out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, GooglePart{Text: hint})
}

func stripThinkingBlocks(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	out := make([]anthropic.ContentBlock, 0, len(content))
	for _, block := range content {
		if isThinkingPart(block) {
			if block.Thinking != "" {
				out = append(out, anthropic.ContentBlock{Type: "text", Text: block.Thinking})
			}
			continue
		}
		out = append(out, block)
	}
	return out
}

func dropUnsignedThoughtParts(contents []GoogleContent) []GoogleContent {
	result := make([]GoogleContent, 0, len(contents))
	for _, content := range contents {
		parts := make([]GooglePart, 0, len(content.Parts))
		for _, part := range content.Parts {
			if part.Thought && !IsValidSignature(part.ThoughtSignature) {
				continue
			}
			parts = append(parts, part)
		}
		result = append(result, GoogleContent{Role: content.Role, Parts: parts})
	}
	return result
}

func applyGenerationConfig(out *GoogleRequest, request *anthropic.MessagesRequest) {
	if request.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = request.MaxTokens
	}
	if request.Temperature != nil {
		out.GenerationConfig.Temperature = request.Temperature
	}
	if request.TopP != nil {
		out.GenerationConfig.TopP = request.TopP
	}
	if request.TopK != nil {
		out.GenerationConfig.TopK = request.TopK
	}
	if len(request.StopSequences) > 0 {
		out.GenerationConfig.StopSequences = request.StopSequences
	}
}

const defaultGeminiThinkingBudget = 16000
const thinkingBudgetHeadroom = 8192

func applyThinkingConfig(out *GoogleRequest, request *anthropic.MessagesRequest, isClaudeModel, isGeminiModel bool) {
	switch {
	case isClaudeModel:
		cfg := &ThinkingConfig{IncludeThoughts: true}
		var budget int
		if request.Thinking != nil {
			budget = request.Thinking.BudgetTokens
		}
		if budget > 0 {
			cfg.ThinkingBudget = budget
			if out.GenerationConfig.MaxOutputTokens > 0 && out.GenerationConfig.MaxOutputTokens <= budget {
				out.GenerationConfig.MaxOutputTokens = budget + thinkingBudgetHeadroom
			}
		}
		out.GenerationConfig.ThinkingConfig = cfg

	case isGeminiModel:
		budget := defaultGeminiThinkingBudget
		if request.Thinking != nil && request.Thinking.BudgetTokens > 0 {
			budget = request.Thinking.BudgetTokens
		}
		out.GenerationConfig.ThinkingConfig = &ThinkingConfig{
			IncludeThoughtsGemini: true,
			ThinkingBudgetGemini:  budget,
		}
	}
}

func applyTools(out *GoogleRequest, tools []anthropic.Tool, isClaudeModel bool) {
	declarations := make([]FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		name := cleanToolName(tool.Name)
		declarations = append(declarations, FunctionDeclaration{
			Name:        name,
			Description: tool.Description,
			Parameters:  SanitizeAndCleanSchema(tool.InputSchema),
		})
	}
	out.Tools = []GoogleTool{{FunctionDeclarations: declarations}}

	if isClaudeModel {
		out.ToolConfig = &ToolConfig{FunctionCallingConfig: &FunctionCallingConfig{Mode: "VALIDATED"}}
	}
}

func cleanToolName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}
