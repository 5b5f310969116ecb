// Package contextmgr implements the context manager and calibrator (C3):
// structural token estimation, EWMA-corrected calibration, and the
// three-layer progressive compression pipeline that keeps long
// conversations under the upstream's context window.
package contextmgr

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// Fixed per-block overheads for content kinds the tokenizer can't count
// directly. These mirror the teacher's practice of charging a flat
// overhead per message/block rather than trying to model exact wire
// framing cost.
const (
	perMessageOverheadTokens = 4
	imageBlockTokens         = 1600
	toolUseOverheadTokens    = 10
	toolResultOverheadTokens = 10
	toolSchemaBaseTokens     = 50
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// countText returns the tokenizer's token count for text, falling back to
// a character-based estimate (len/4, the common English-text ratio) if the
// tokenizer is unavailable.
func countText(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// EstimateTokenUsage produces a deterministic structural estimate of the
// request's token footprint: per-message fixed overhead plus a per-block
// count depending on block kind.
func EstimateTokenUsage(request *anthropic.MessagesRequest) int {
	if request == nil {
		return 0
	}

	total := 0

	switch sys := request.System.(type) {
	case string:
		total += countText(sys)
	case []anthropic.ContentBlock:
		for _, block := range sys {
			total += countBlock(block)
		}
	}

	for _, msg := range request.Messages {
		total += perMessageOverheadTokens
		for _, block := range msg.Content {
			total += countBlock(block)
		}
	}

	for _, tool := range request.Tools {
		total += toolSchemaBaseTokens + countText(tool.Description) + len(tool.InputSchema)/4
	}

	return total
}

func countBlock(block anthropic.ContentBlock) int {
	switch block.Type {
	case "text":
		return countText(block.Text)
	case "thinking":
		return countText(block.Thinking)
	case "redacted_thinking":
		return countText(block.Data)
	case "image", "document":
		return imageBlockTokens
	case "tool_use":
		return toolUseOverheadTokens + len(block.Input)/4
	case "tool_result":
		return toolResultOverheadTokens + countToolResultContent(block.Content)
	default:
		return 0
	}
}

func countToolResultContent(content any) int {
	switch v := content.(type) {
	case string:
		return countText(v)
	case []anthropic.ContentBlock:
		total := 0
		for _, block := range v {
			total += countBlock(block)
		}
		return total
	default:
		return 0
	}
}
