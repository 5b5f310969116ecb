package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainStream(t *testing.T, body string) ([]StreamEvent, []string, error) {
	t.Helper()
	events, raw, errs := CreateClaudeSSEStream(context.Background(), nil, strings.NewReader(body), "trace-1", "gemini-3-pro")

	var gotEvents []StreamEvent
	var gotRaw []string
	var gotErr error
	done := false
	for !done {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
			} else {
				gotEvents = append(gotEvents, e)
			}
		case r, ok := <-raw:
			if !ok {
				raw = nil
			} else {
				gotRaw = append(gotRaw, r)
			}
		case err, ok := <-errs:
			if ok {
				gotErr = err
			}
		}
		if events == nil && raw == nil {
			done = true
		}
	}
	return gotEvents, gotRaw, gotErr
}

func TestCreateClaudeSSEStream_EmitsTextDeltaSequence(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"hi"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2}}` + "\n"
	events, _, err := drainStream(t, body)
	require.NoError(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, "message_start")
	assert.Contains(t, types, "content_block_start")
	assert.Contains(t, types, "content_block_delta")
	assert.Contains(t, types, "message_stop")
}

func TestCreateClaudeSSEStream_PassesHeartbeatLinesThrough(t *testing.T) {
	body := ": heartbeat\n" + `data: {"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}` + "\n"
	_, raw, err := drainStream(t, body)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, ": heartbeat", raw[0])
}

func TestCreateClaudeSSEStream_EmptyStreamErrors(t *testing.T) {
	_, _, err := drainStream(t, "")
	require.Error(t, err)
	assert.IsType(t, ErrEmptyStream{}, err)
}

func TestCollectStreamToJSON_ReassemblesTextAndUsage(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"hi "}]}},{"content":{"parts":[{"text":"there"}]}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":3}}` + "\n"
	events, _, errs := CreateClaudeSSEStream(context.Background(), nil, strings.NewReader(body), "trace-1", "gemini-3-pro")

	resp, err := CollectStreamToJSON(events, errs)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "hi ", resp.Content[0].Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestCollectStreamToJSON_EmptyStreamReturnsError(t *testing.T) {
	events, _, errs := CreateClaudeSSEStream(context.Background(), nil, strings.NewReader(""), "trace-1", "gemini-3-pro")
	_, err := CollectStreamToJSON(events, errs)
	require.Error(t, err)
}

func TestCreateClaudeSSEStream_ToolCallEmitsFunctionCallBlock(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]}}]}` + "\n"
	events, _, err := drainStream(t, body)
	require.NoError(t, err)

	var sawToolStart bool
	for _, e := range events {
		if e.Type == "content_block_start" && e.ContentBlock != nil && e.ContentBlock.Type == "tool_use" {
			sawToolStart = true
		}
	}
	assert.True(t, sawToolStart)
}
