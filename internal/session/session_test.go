package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

func sampleRequest(system string, firstUserText string, toolNames ...string) *anthropic.MessagesRequest {
	var tools []anthropic.Tool
	for _, n := range toolNames {
		tools = append(tools, anthropic.Tool{Name: n})
	}
	return &anthropic.MessagesRequest{
		System: system,
		Tools:  tools,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: firstUserText}}},
		},
	}
}

func TestExtractSessionID_StableForIdenticalInputs(t *testing.T) {
	a := ExtractSessionID(sampleRequest("be helpful", "hi there", "search"))
	b := ExtractSessionID(sampleRequest("be helpful", "hi there", "search"))
	assert.Equal(t, a, b)
}

func TestExtractSessionID_DiffersOnDifferentFirstMessage(t *testing.T) {
	a := ExtractSessionID(sampleRequest("be helpful", "hi there"))
	b := ExtractSessionID(sampleRequest("be helpful", "goodbye"))
	assert.NotEqual(t, a, b)
}

func TestExtractSessionID_IgnoresToolOrder(t *testing.T) {
	a := ExtractSessionID(sampleRequest("sys", "hi", "search", "calc"))
	b := ExtractSessionID(sampleRequest("sys", "hi", "calc", "search"))
	assert.Equal(t, a, b)
}

func TestExtractSessionID_DiffersOnDifferentToolSet(t *testing.T) {
	a := ExtractSessionID(sampleRequest("sys", "hi", "search"))
	b := ExtractSessionID(sampleRequest("sys", "hi", "search", "calc"))
	assert.NotEqual(t, a, b)
}

func TestExtractSessionID_EmptyRequestStillProducesID(t *testing.T) {
	id := ExtractSessionID(&anthropic.MessagesRequest{})
	assert.NotEmpty(t, id)
}

func TestExtractSessionID_NilRequestProducesID(t *testing.T) {
	id := ExtractSessionID(nil)
	assert.NotEmpty(t, id)
}
