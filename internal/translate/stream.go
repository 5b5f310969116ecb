package translate

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// StreamEvent is one Claude-format SSE event emitted while translating an
// upstream v1internal stream.
type StreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index,omitempty"`
	Message      *anthropic.MessagesResponse `json:"message,omitempty"`
	ContentBlock *anthropic.ContentBlock    `json:"content_block,omitempty"`
	Delta        map[string]interface{}      `json:"delta,omitempty"`
	Usage        *anthropic.Usage            `json:"usage,omitempty"`
}

// ErrEmptyStream indicates upstream closed the connection without ever
// sending a content part, which the dispatch engine's attempt loop treats
// as retryable rather than as a valid empty response.
type ErrEmptyStream struct{}

func (ErrEmptyStream) Error() string { return "no content parts received from upstream" }

type streamState struct {
	messageID         string
	hasEmittedStart   bool
	blockIndex        int
	currentBlockType  string
	currentSignature  string
	inputTokens       int
	outputTokens      int
	cacheReadTokens   int
	stopReason        string
}

// CreateClaudeSSEStream reads an upstream v1internal SSE body and emits the
// equivalent Claude-format SSE events on the returned channel. SSE comment
// lines (starting with ':', e.g. heartbeats) are passed through unchanged via
// the raw channel so the caller can forward them verbatim; other lines that
// aren't a "data:" payload are dropped.
func CreateClaudeSSEStream(ctx context.Context, tracker SignatureTracker, reader io.Reader, traceID, model string) (<-chan StreamEvent, <-chan string, <-chan error) {
	events := make(chan StreamEvent, 100)
	raw := make(chan string, 10)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(raw)
		defer close(errs)

		st := &streamState{messageID: anthropic.GenerateMessageID()}
		modelFamily := string(config.GetModelFamily(model))

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, ":") {
				raw <- line
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var resp GoogleResponse
			if err := json.Unmarshal([]byte(payload), &resp); err != nil {
				continue
			}
			candidates, usage := unwrapCandidates(&resp)
			if usage != nil {
				st.inputTokens = maxInt(st.inputTokens, usage.PromptTokenCount)
				st.outputTokens = maxInt(st.outputTokens, usage.CandidatesTokenCount)
				st.cacheReadTokens = maxInt(st.cacheReadTokens, usage.CachedContentTokenCount)
			}
			if len(candidates) == 0 {
				continue
			}
			first := candidates[0]
			if first.Content == nil {
				if first.FinishReason != "" && st.stopReason == "" {
					st.stopReason = mapFinishReason(first.FinishReason, false)
				}
				continue
			}

			st.emitStart(events, model)
			for _, part := range first.Content.Parts {
				st.emitPart(ctx, tracker, events, part, modelFamily)
			}
			if first.FinishReason != "" && st.stopReason == "" {
				st.stopReason = mapFinishReason(first.FinishReason, st.currentBlockType == "tool_use")
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}
		if !st.hasEmittedStart {
			errs <- ErrEmptyStream{}
			return
		}

		st.closeCurrentBlock(events)
		if st.stopReason == "" {
			st.stopReason = "end_turn"
		}
		events <- StreamEvent{
			Type:  "message_delta",
			Delta: map[string]interface{}{"stop_reason": st.stopReason, "stop_sequence": nil},
			Usage: &anthropic.Usage{OutputTokens: st.outputTokens, CacheReadInputTokens: st.cacheReadTokens},
		}
		events <- StreamEvent{Type: "message_stop"}
	}()

	return events, raw, errs
}

func (st *streamState) emitStart(events chan<- StreamEvent, model string) {
	if st.hasEmittedStart {
		return
	}
	st.hasEmittedStart = true
	events <- StreamEvent{
		Type: "message_start",
		Message: &anthropic.MessagesResponse{
			ID:      st.messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []anthropic.ContentBlock{},
			Model:   model,
			Usage: &anthropic.Usage{
				InputTokens:          st.inputTokens - st.cacheReadTokens,
				CacheReadInputTokens: st.cacheReadTokens,
			},
		},
	}
}

func (st *streamState) openBlock(events chan<- StreamEvent, blockType string, block anthropic.ContentBlock) {
	st.closeCurrentBlock(events)
	st.currentBlockType = blockType
	st.currentSignature = ""
	events <- StreamEvent{Type: "content_block_start", Index: st.blockIndex, ContentBlock: &block}
}

func (st *streamState) closeCurrentBlock(events chan<- StreamEvent) {
	if st.currentBlockType == "" {
		return
	}
	if st.currentBlockType == "thinking" && st.currentSignature != "" {
		events <- StreamEvent{
			Type:  "content_block_delta",
			Index: st.blockIndex,
			Delta: map[string]interface{}{"type": "signature_delta", "signature": st.currentSignature},
		}
		st.currentSignature = ""
	}
	events <- StreamEvent{Type: "content_block_stop", Index: st.blockIndex}
	st.blockIndex++
	st.currentBlockType = ""
}

func (st *streamState) emitPart(ctx context.Context, tracker SignatureTracker, events chan<- StreamEvent, part GooglePart, modelFamily string) {
	switch {
	case part.Thought:
		if st.currentBlockType != "thinking" {
			st.openBlock(events, "thinking", anthropic.ContentBlock{Type: "thinking"})
		}
		if IsValidSignature(part.ThoughtSignature) {
			st.currentSignature = part.ThoughtSignature
			CacheThinkingSignature(ctx, tracker, part.ThoughtSignature, modelFamily)
		}
		events <- StreamEvent{
			Type:  "content_block_delta",
			Index: st.blockIndex,
			Delta: map[string]interface{}{"type": "thinking_delta", "thinking": part.Text},
		}

	case part.Text != "":
		if st.currentBlockType != "text" {
			st.openBlock(events, "text", anthropic.ContentBlock{Type: "text"})
		}
		events <- StreamEvent{
			Type:  "content_block_delta",
			Index: st.blockIndex,
			Delta: map[string]interface{}{"type": "text_delta", "text": part.Text},
		}

	case part.FunctionCall != nil:
		toolID := part.FunctionCall.ID
		if toolID == "" {
			toolID = anthropic.GenerateToolUseID()
		}
		block := anthropic.ContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name}
		if IsValidSignature(part.ThoughtSignature) {
			block.ThoughtSignature = part.ThoughtSignature
			CacheToolSignature(ctx, tracker, toolID, part.ThoughtSignature)
		}
		st.openBlock(events, "tool_use", block)
		args, _ := json.Marshal(part.FunctionCall.Args)
		events <- StreamEvent{
			Type:  "content_block_delta",
			Index: st.blockIndex,
			Delta: map[string]interface{}{"type": "input_json_delta", "partial_json": string(args)},
		}

	case part.InlineData != nil:
		st.openBlock(events, "image", anthropic.ContentBlock{
			Type:   "image",
			Source: &anthropic.ImageSource{Type: "base64", MediaType: part.InlineData.MimeType, Data: part.InlineData.Data},
		})
		st.closeCurrentBlock(events)
	}
}

// CollectStreamToJSON reassembles a Claude SSE event stream produced by
// CreateClaudeSSEStream into a single terminal response, equivalent to what
// TransformResponse would have produced directly from a non-streaming
// upstream call. Used when the inbound request was non-streaming but the
// dispatcher forced streaming upstream (the mandatory streaming peek
// applies to every attempt regardless of what the client asked for).
func CollectStreamToJSON(events <-chan StreamEvent, errs <-chan error) (*anthropic.MessagesResponse, error) {
	var resp *anthropic.MessagesResponse
	blocks := map[int]*anthropic.ContentBlock{}
	var order []int
	partialJSON := map[int]string{}

	for event := range events {
		switch event.Type {
		case "message_start":
			resp = event.Message

		case "content_block_start":
			if event.ContentBlock == nil {
				continue
			}
			clone := *event.ContentBlock
			blocks[event.Index] = &clone
			order = append(order, event.Index)

		case "content_block_delta":
			block, ok := blocks[event.Index]
			if !ok || event.Delta == nil {
				continue
			}
			switch event.Delta["type"] {
			case "text_delta":
				if s, ok := event.Delta["text"].(string); ok {
					block.Text += s
				}
			case "thinking_delta":
				if s, ok := event.Delta["thinking"].(string); ok {
					block.Thinking += s
				}
			case "signature_delta":
				if s, ok := event.Delta["signature"].(string); ok {
					block.ThoughtSignature = s
				}
			case "input_json_delta":
				if s, ok := event.Delta["partial_json"].(string); ok {
					partialJSON[event.Index] += s
				}
			}

		case "message_delta":
			if resp != nil && event.Delta != nil {
				if sr, ok := event.Delta["stop_reason"].(string); ok {
					resp.StopReason = sr
				}
			}
			if resp != nil && event.Usage != nil {
				if resp.Usage == nil {
					resp.Usage = &anthropic.Usage{}
				}
				resp.Usage.OutputTokens = event.Usage.OutputTokens
				resp.Usage.CacheReadInputTokens = event.Usage.CacheReadInputTokens
			}
		}
	}

	if err, ok := <-errs; ok && err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrEmptyStream{}
	}

	for _, idx := range order {
		block := blocks[idx]
		if raw, ok := partialJSON[idx]; ok && raw != "" {
			block.Input = json.RawMessage(raw)
		}
		resp.Content = append(resp.Content, *block)
	}
	if len(resp.Content) == 0 {
		resp.Content = append(resp.Content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	return resp, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
