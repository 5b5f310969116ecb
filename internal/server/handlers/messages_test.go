package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

func TestIsWarmupRequest(t *testing.T) {
	warmup := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Warmup request"}}},
		},
	}
	assert.True(t, isWarmupRequest(warmup))

	ordinary := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Hello"}}},
		},
	}
	assert.False(t, isWarmupRequest(ordinary))

	multiTurn := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Warmup"}}},
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "OK"}}},
		},
	}
	assert.False(t, isWarmupRequest(multiTurn))

	assistantOnly := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "Warmup"}}},
		},
	}
	assert.False(t, isWarmupRequest(assistantOnly))

	empty := &anthropic.MessagesRequest{}
	assert.False(t, isWarmupRequest(empty))
}

func TestWarmupResponse(t *testing.T) {
	resp := warmupResponse("claude-sonnet-4-5")
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.NotEmpty(t, resp.ID)
}
