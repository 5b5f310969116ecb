package contextmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

func TestEstimateTokenUsage_EmptyRequestIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenUsage(&anthropic.MessagesRequest{}))
}

func TestEstimateTokenUsage_NilRequestIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenUsage(nil))
}

func TestEstimateTokenUsage_GrowsWithMessageCount(t *testing.T) {
	one := &anthropic.MessagesRequest{Messages: []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}},
	}}
	two := &anthropic.MessagesRequest{Messages: []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}},
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}},
	}}

	assert.Greater(t, EstimateTokenUsage(two), EstimateTokenUsage(one))
}

func TestEstimateTokenUsage_ImageBlockChargesFixedOverhead(t *testing.T) {
	req := &anthropic.MessagesRequest{Messages: []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "image"}}},
	}}
	assert.GreaterOrEqual(t, EstimateTokenUsage(req), imageBlockTokens)
}

func TestEstimateTokenUsage_SystemStringCounted(t *testing.T) {
	withSystem := &anthropic.MessagesRequest{System: "you are a careful assistant with many instructions to follow"}
	withoutSystem := &anthropic.MessagesRequest{}
	assert.Greater(t, EstimateTokenUsage(withSystem), EstimateTokenUsage(withoutSystem))
}
