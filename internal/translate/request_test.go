package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

func TestTransformClaudeRequestIn_BuildsSystemInstruction(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:  "gemini-3-pro",
		System: "be concise",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "gemini-3-pro", false)
	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "be concise", out.SystemInstruction.Parts[0].Text)
}

func TestTransformClaudeRequestIn_MapsRolesAndParts(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "gemini-3-pro",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "gemini-3-pro", false)
	require.Len(t, out.Contents, 2)
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Equal(t, "model", out.Contents[1].Role)
}

func TestTransformClaudeRequestIn_RetriedWithoutThinkingStripsThinkingBlocks(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "gemini-3-pro-thinking",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{
				{Type: "thinking", Thinking: "pondering", Signature: longSignature("s")},
				{Type: "text", Text: "answer"},
			}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "gemini-3-pro-thinking", true)
	assert.Nil(t, out.GenerationConfig.ThinkingConfig)
	for _, content := range out.Contents {
		for _, part := range content.Parts {
			assert.False(t, part.Thought)
		}
	}
}

func TestTransformClaudeRequestIn_EnablesClaudeThinkingConfig(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-opus-4-6-thinking",
		Thinking: &anthropic.ThinkingConfig{BudgetTokens: 4096},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "claude-opus-4-6-thinking", false)
	require.NotNil(t, out.GenerationConfig.ThinkingConfig)
	assert.Equal(t, 4096, out.GenerationConfig.ThinkingConfig.ThinkingBudget)
}

func TestTransformClaudeRequestIn_BumpsMaxTokensBelowThinkingBudget(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-opus-4-6-thinking",
		MaxTokens: 100,
		Thinking:  &anthropic.ThinkingConfig{BudgetTokens: 4096},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "claude-opus-4-6-thinking", false)
	assert.Greater(t, out.GenerationConfig.MaxOutputTokens, 4096)
}

func TestTransformClaudeRequestIn_CapsGeminiMaxOutputTokens(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-3-pro",
		MaxTokens: 999999,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "gemini-3-pro", false)
	assert.LessOrEqual(t, out.GenerationConfig.MaxOutputTokens, 16384)
}

func TestTransformClaudeRequestIn_ConvertsTools(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "gemini-3-pro",
		Tools: []anthropic.Tool{{Name: "look up!", Description: "find stuff", InputSchema: []byte(`{"type":"object","properties":{"q":{"type":"string"}}}`)}},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := TransformClaudeRequestIn(context.Background(), nil, req, "gemini-3-pro", false)
	require.Len(t, out.Tools, 1)
	require.Len(t, out.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "look_up_", out.Tools[0].FunctionDeclarations[0].Name)
}
