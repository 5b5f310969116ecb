package contextmgr

import (
	"context"
	"fmt"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// CONTEXT_SUMMARY_PROMPT (§4.3) instructs the auxiliary upstream call L3
// makes to fold prior turns into a single summary turn.
const contextSummaryPrompt = "Summarize the conversation so far in enough detail that it could be " +
	"continued without access to the original messages. Preserve any decisions, " +
	"file paths, and open tasks. Do not include commentary about this summarization request itself."

const toolPlaceholderText = "[earlier tool exchange omitted to save context]"

// PurifyStrategy selects how aggressively PurifyHistory drops content.
type PurifyStrategy string

const (
	PurifyAggressive   PurifyStrategy = "aggressive"
	PurifyConservative PurifyStrategy = "conservative"
)

// TrimToolMessages compacts all but the most recent keepLastN tool_use/
// tool_result pairs into elided placeholders. applied reports whether any
// pair was actually compacted.
func TrimToolMessages(messages []anthropic.Message, keepLastN int) (result []anthropic.Message, applied bool) {
	pairIndexes := toolPairMessageIndexes(messages)
	// Each pair spans two messages: the tool_use turn and its tool_result turn.
	keepMessages := keepLastN * 2
	if len(pairIndexes) <= keepMessages {
		return messages, false
	}

	cutoff := len(pairIndexes) - keepMessages
	trimSet := make(map[int]bool, cutoff)
	for _, idx := range pairIndexes[:cutoff] {
		trimSet[idx] = true
	}

	out := make([]anthropic.Message, len(messages))
	for i, msg := range messages {
		if !trimSet[i] {
			out[i] = msg
			continue
		}
		out[i] = elideToolMessage(msg)
		applied = true
	}

	return out, applied
}

// toolPairMessageIndexes returns, in order, the index of every message that
// contains a tool_use or tool_result block.
func toolPairMessageIndexes(messages []anthropic.Message) []int {
	var indexes []int
	for i, msg := range messages {
		for _, block := range msg.Content {
			if block.IsToolUse() || block.IsToolResult() {
				indexes = append(indexes, i)
				break
			}
		}
	}
	return indexes
}

func elideToolMessage(msg anthropic.Message) anthropic.Message {
	clone := anthropic.CloneMessage(msg)
	kept := make([]anthropic.ContentBlock, 0, len(clone.Content))
	elided := false

	for _, block := range clone.Content {
		if block.IsToolUse() || block.IsToolResult() {
			if elided {
				continue
			}
			kept = append(kept, anthropic.ContentBlock{Type: "text", Text: toolPlaceholderText})
			elided = true
			continue
		}
		kept = append(kept, block)
	}

	clone.Content = kept
	return clone
}

// CompressThinkingPreserveSignature reduces thinking blocks in all but the
// most recent keepLastN assistant turns carrying thinking to a
// length-limited stub, preserving the original signature so the upstream
// can still validate it.
func CompressThinkingPreserveSignature(messages []anthropic.Message, keepLastN, maxChars int) (result []anthropic.Message, applied bool) {
	thinkingMsgIdx := make([]int, 0)
	for i, msg := range messages {
		for _, block := range msg.Content {
			if block.IsThinking() {
				thinkingMsgIdx = append(thinkingMsgIdx, i)
				break
			}
		}
	}

	if len(thinkingMsgIdx) <= keepLastN {
		return messages, false
	}

	cutoff := len(thinkingMsgIdx) - keepLastN
	compressSet := make(map[int]bool, cutoff)
	for _, idx := range thinkingMsgIdx[:cutoff] {
		compressSet[idx] = true
	}

	out := make([]anthropic.Message, len(messages))
	for i, msg := range messages {
		if !compressSet[i] {
			out[i] = msg
			continue
		}
		out[i] = stubThinkingBlocks(msg, maxChars)
		applied = true
	}

	return out, applied
}

func stubThinkingBlocks(msg anthropic.Message, maxChars int) anthropic.Message {
	clone := anthropic.CloneMessage(msg)
	for i, block := range clone.Content {
		if !block.IsThinking() {
			continue
		}
		if len(block.Thinking) <= maxChars {
			continue
		}
		clone.Content[i].Thinking = block.Thinking[:maxChars] + "…"
		// Signature is left untouched: the upstream validates it against
		// the original thinking content's hash, not the stub.
	}
	return clone
}

// PurifyHistory cleanses messages for a background-task redirect.
// Aggressive drops every block that isn't plain text; Conservative only
// drops thinking/redacted_thinking blocks, which a cut-down background
// model was never going to honor anyway.
func PurifyHistory(messages []anthropic.Message, strategy PurifyStrategy) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		clone := anthropic.CloneMessage(msg)
		kept := make([]anthropic.ContentBlock, 0, len(clone.Content))

		for _, block := range clone.Content {
			switch {
			case strategy == PurifyAggressive && !block.IsText():
				continue
			case strategy == PurifyConservative && (block.IsThinking() || block.IsRedactedThinking()):
				continue
			default:
				kept = append(kept, block)
			}
		}

		if len(kept) == 0 {
			continue
		}
		clone.Content = kept
		out = append(out, clone)
	}
	return out
}

// Summarizer performs the auxiliary upstream call L3 needs to fold prior
// turns into a summary. The dispatch engine supplies the concrete
// implementation (an upstream client bound to a specific account) so this
// package stays free of a dependency on C1/C6/C7.
type Summarizer interface {
	Summarize(ctx context.Context, messages []anthropic.Message, traceID string) (string, error)
}

// TryCompressWithSummary performs the auxiliary summarization call and
// returns a forked request whose history begins with a single
// system/user summary message in place of the original turns.
func TryCompressWithSummary(ctx context.Context, request *anthropic.MessagesRequest, traceID string, summarizer Summarizer) (*anthropic.MessagesRequest, error) {
	if summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured for context fork")
	}

	summary, err := summarizer.Summarize(ctx, request.Messages, traceID)
	if err != nil {
		return nil, fmt.Errorf("context fork summary failed: %w", err)
	}

	forked := *request
	forked.Messages = []anthropic.Message{
		{
			Role: "user",
			Content: []anthropic.ContentBlock{
				{Type: "text", Text: contextSummaryPrompt + "\n\n---\n\n" + summary},
			},
		},
	}

	return &forked, nil
}

// Layer identifies which compression layer (if any) RunCompression applied.
type Layer string

const (
	LayerNone Layer = "none"
	LayerL1   Layer = "l1_tool_trim"
	LayerL2   Layer = "l2_thinking_compress"
	LayerL3   Layer = "l3_fork_summary"
)

// Result reports what RunCompression did.
type Result struct {
	Layer    Layer
	Messages []anthropic.Message
	Forked   *anthropic.MessagesRequest // set only when Layer == LayerL3
}

// RunCompression applies at most one compression layer, chosen by how
// usageRatio (estimated tokens / context limit) compares to the configured
// thresholds. retriedWithoutThinking requests skip compression entirely,
// since that recovery path has already shed the bulk of the context by
// converting thinking blocks to plain text.
func RunCompression(ctx context.Context, request *anthropic.MessagesRequest, usageRatio float64, cfg config.ContextConfig, traceID string, summarizer Summarizer, retriedWithoutThinking bool) (*Result, error) {
	if !cfg.ScalingEnabled || retriedWithoutThinking {
		return &Result{Layer: LayerNone, Messages: request.Messages}, nil
	}

	if usageRatio > cfg.ThresholdL1 {
		trimmed, applied := TrimToolMessages(request.Messages, cfg.KeepLastNToolPairs)
		if applied {
			compressedRatio := usageRatio * float64(len(trimmed)) / float64(len(request.Messages))
			if compressedRatio < 0.7 {
				return &Result{Layer: LayerL1, Messages: trimmed}, nil
			}
			// Ratio still high: fall through so L2 may also run, per §4.3.
			request = cloneRequestWithMessages(request, trimmed)
		}
	}

	if usageRatio > cfg.ThresholdL2 {
		compressed, applied := CompressThinkingPreserveSignature(request.Messages, cfg.KeepLastNThinkingBlocks, cfg.ThinkingStubMaxChars)
		if applied {
			return &Result{Layer: LayerL2, Messages: compressed}, nil
		}
	}

	if usageRatio > cfg.ThresholdL3 {
		forked, err := TryCompressWithSummary(ctx, request, traceID, summarizer)
		if err != nil {
			return nil, err
		}
		return &Result{Layer: LayerL3, Messages: forked.Messages, Forked: forked}, nil
	}

	return &Result{Layer: LayerNone, Messages: request.Messages}, nil
}

func cloneRequestWithMessages(request *anthropic.MessagesRequest, messages []anthropic.Message) *anthropic.MessagesRequest {
	clone := *request
	clone.Messages = messages
	return &clone
}
