package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

func TestConvertRole_AssistantBecomesModel(t *testing.T) {
	assert.Equal(t, "model", ConvertRole("assistant"))
	assert.Equal(t, "user", ConvertRole("user"))
}

func TestConvertContentToParts_TextBlock(t *testing.T) {
	parts := ConvertContentToParts(context.Background(), nil, []anthropic.ContentBlock{{Type: "text", Text: "hi"}}, true, false)
	require.Len(t, parts, 1)
	assert.Equal(t, "hi", parts[0].Text)
}

func TestConvertContentToParts_SignedThinkingBecomesThoughtPart(t *testing.T) {
	sig := longSignature("sig")
	parts := ConvertContentToParts(context.Background(), nil, []anthropic.ContentBlock{
		{Type: "thinking", Thinking: "pondering", Signature: sig},
	}, false, true)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Thought)
	assert.Equal(t, sig, parts[0].ThoughtSignature)
}

func TestConvertContentToParts_UnsignedThinkingToGeminiKeepsTextOnly(t *testing.T) {
	parts := ConvertContentToParts(context.Background(), nil, []anthropic.ContentBlock{
		{Type: "thinking", Thinking: "pondering"},
	}, false, true)
	require.Len(t, parts, 1)
	assert.False(t, parts[0].Thought)
	assert.Equal(t, "pondering", parts[0].Text)
}

func TestConvertContentToParts_ToolUseRestoresCachedSignature(t *testing.T) {
	tracker := newFakeTracker()
	sig := longSignature("cached")
	_ = tracker.SetToolSignature(context.Background(), "tool-1", sig)

	parts := ConvertContentToParts(context.Background(), tracker, []anthropic.ContentBlock{
		{Type: "tool_use", ID: "tool-1", Name: "lookup", Input: []byte(`{"q":"x"}`)},
	}, true, false)

	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].FunctionCall)
	assert.Equal(t, sig, parts[0].ThoughtSignature)
	assert.Equal(t, "x", parts[0].FunctionCall.Args["q"])
}

func TestConvertContentToParts_ToolResultReportsError(t *testing.T) {
	parts := ConvertContentToParts(context.Background(), nil, []anthropic.ContentBlock{
		{Type: "tool_result", ToolUseID: "tool-1", Content: "boom", IsError: true},
	}, true, false)
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].FunctionResponse)
	assert.Equal(t, "boom", parts[0].FunctionResponse.Response["error"])
}

func TestConvertContentToParts_ImageUsesInlineData(t *testing.T) {
	parts := ConvertContentToParts(context.Background(), nil, []anthropic.ContentBlock{
		{Type: "image", Source: &anthropic.ImageSource{Type: "base64", MediaType: "image/png", Data: "YWJj"}},
	}, true, false)
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)
}
