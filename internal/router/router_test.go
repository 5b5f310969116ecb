package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveModelRoute_AppliesUserOverrideFirst(t *testing.T) {
	overrides := map[string]string{"claude-3-haiku": "claude-sonnet-4-5"}
	assert.Equal(t, "claude-sonnet-4-5", ResolveModelRoute("claude-3-haiku", overrides))
}

func TestResolveModelRoute_FoldsDatedVariantToBaseName(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", ResolveModelRoute("claude-sonnet-4-5-20250514", nil))
}

func TestResolveModelRoute_PreservesThinkingSuffix(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5-thinking", ResolveModelRoute("claude-sonnet-4-5-20250514-thinking", nil))
}

func TestNormalizeToStandardID_DropsThinkingSuffix(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", NormalizeToStandardID("claude-sonnet-4-5-thinking"))
	assert.Equal(t, "claude-sonnet-4-5", NormalizeToStandardID("claude-sonnet-4-5"))
}

func TestMapClaudeModelToGemini_UsesFallbackMap(t *testing.T) {
	assert.Equal(t, "gemini-3-pro-high", MapClaudeModelToGemini("claude-opus-4-6-thinking"))
}

func TestMapClaudeModelToGemini_GeminiModelPassesThrough(t *testing.T) {
	assert.Equal(t, "gemini-3-pro-high", MapClaudeModelToGemini("gemini-3-pro-high"))
}

func TestMapClaudeModelToGemini_UnmappedModelUnchanged(t *testing.T) {
	assert.Equal(t, "some-unknown-model", MapClaudeModelToGemini("some-unknown-model"))
}

func TestGetContextLimitForModel_FlashGetsSmallerWindow(t *testing.T) {
	assert.Equal(t, 1_000_000, GetContextLimitForModel("gemini-3-flash"))
	assert.Equal(t, 2_000_000, GetContextLimitForModel("gemini-3-pro-high"))
	assert.Equal(t, 2_000_000, GetContextLimitForModel("claude-opus-4-6-thinking"))
}

func TestDetectBackgroundTaskType_MatchesTitleRequest(t *testing.T) {
	req := BackgroundTaskRequest{System: "Please generate a concise title for this conversation."}
	assert.Equal(t, TaskTypeConversationTitle, DetectBackgroundTaskType(req))
}

func TestDetectBackgroundTaskType_MatchesSummaryRequest(t *testing.T) {
	req := BackgroundTaskRequest{System: "Summarize the conversation so far in one paragraph."}
	assert.Equal(t, TaskTypeSummary, DetectBackgroundTaskType(req))
}

func TestDetectBackgroundTaskType_NoMatchForOrdinaryRequest(t *testing.T) {
	req := BackgroundTaskRequest{System: "You are a helpful coding assistant."}
	assert.Equal(t, TaskType(""), DetectBackgroundTaskType(req))
}

func TestSelectBackgroundModel_ReturnsConfiguredModel(t *testing.T) {
	assert.Equal(t, "gemini-3-flash", SelectBackgroundModel(TaskTypeConversationTitle))
}

func TestSelectBackgroundModel_UnknownTaskTypeReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", SelectBackgroundModel(TaskType("unknown")))
}
