package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformResponse_MapsTextContent(t *testing.T) {
	resp := &GoogleResponse{
		Candidates: []GoogleCandidate{{
			Content:      &GoogleContent{Role: "model", Parts: []GooglePart{{Text: "hello"}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5},
	}
	out := TransformResponse(context.Background(), nil, resp, "gemini-3-pro", false, 0, 0)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 5, out.Usage.OutputTokens)
}

func TestTransformResponse_ToolUseSetsStopReason(t *testing.T) {
	resp := &GoogleResponse{
		Candidates: []GoogleCandidate{{
			Content: &GoogleContent{Parts: []GooglePart{
				{FunctionCall: &FunctionCall{Name: "lookup", Args: map[string]interface{}{"q": "x"}}},
			}},
		}},
	}
	out := TransformResponse(context.Background(), nil, resp, "gemini-3-pro", false, 0, 0)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "tool_use", out.Content[0].Type)
	assert.Equal(t, "tool_use", out.StopReason)
}

func TestTransformResponse_ThinkingCachesSignatureFamily(t *testing.T) {
	tracker := newFakeTracker()
	sig := longSignature("resp")
	resp := &GoogleResponse{
		Candidates: []GoogleCandidate{{
			Content: &GoogleContent{Parts: []GooglePart{{Text: "hmm", Thought: true, ThoughtSignature: sig}}},
		}},
	}
	out := TransformResponse(context.Background(), tracker, resp, "gemini-3-pro", false, 0, 0)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "thinking", out.Content[0].Type)
	family, _ := tracker.GetThinkingSignatureFamily(context.Background(), sig)
	assert.Equal(t, "gemini", family)
}

func TestTransformResponse_NoContentReturnsEmptyTextBlock(t *testing.T) {
	out := TransformResponse(context.Background(), nil, &GoogleResponse{}, "gemini-3-pro", false, 0, 0)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "", out.Content[0].Text)
}

func TestTransformResponse_WrappedResponseField(t *testing.T) {
	resp := &GoogleResponse{
		Response: &GoogleResponseInner{
			Candidates: []GoogleCandidate{{Content: &GoogleContent{Parts: []GooglePart{{Text: "wrapped"}}}}},
		},
	}
	out := TransformResponse(context.Background(), nil, resp, "gemini-3-pro", false, 0, 0)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "wrapped", out.Content[0].Text)
}
