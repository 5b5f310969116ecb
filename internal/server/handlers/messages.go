// Package handlers provides HTTP request handlers for the server.
// This file handles the Claude-compatible /v1/messages endpoint.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/antigravity-oss/dispatch-engine/internal/apierrors"
	"github.com/antigravity-oss/dispatch-engine/internal/contextmgr"
	"github.com/antigravity-oss/dispatch-engine/internal/dispatch"
	"github.com/antigravity-oss/dispatch-engine/internal/server/sse"
	"github.com/antigravity-oss/dispatch-engine/internal/translate"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// warmupProbePrefix marks the single-message client-side probe Claude Code
// clients send ahead of real turns, purely to confirm the proxy is alive.
const warmupProbePrefix = "Warmup"

// MessagesHandler implements the Claude-compatible messages endpoint,
// dispatching every inbound request through the engine regardless of the
// model name the client asked for.
type MessagesHandler struct {
	engine *dispatch.Engine
}

func NewMessagesHandler(engine *dispatch.Engine) *MessagesHandler {
	return &MessagesHandler{engine: engine}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dispatch.BuildClaudeError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}

	if isWarmupRequest(&req) {
		utils.Debug("[messages] intercepting warmup probe, returning canned response without leasing an account")
		h.handleWarmup(c, &req)
		return
	}

	traceID := uuid.New().String()
	result, err := h.engine.Dispatch(c.Request.Context(), &dispatch.Request{
		Anthropic:         &req,
		ClientWantsStream: req.Stream,
		TraceID:           traceID,
	})
	if err != nil {
		status, body := classifyDispatchError(err)
		c.JSON(status, body)
		return
	}

	c.Header("X-Account-Email", result.AccountEmail)
	c.Header("X-Mapped-Model", result.MappedModel)
	c.Header("X-Context-Purified", strconv.FormatBool(result.ContextPurified))

	if req.Stream {
		h.relayStream(c, result)
		return
	}

	c.JSON(http.StatusOK, result.Response)
}

// isWarmupRequest recognizes the client-side probe ahead of the arbiter so
// it never consumes a lease or reaches upstream: a single user turn whose
// text starts with the fixed probe prefix.
func isWarmupRequest(req *anthropic.MessagesRequest) bool {
	if len(req.Messages) != 1 {
		return false
	}
	msg := req.Messages[0]
	if msg.Role != "user" || len(msg.Content) == 0 {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(msg.Content[0].Text), warmupProbePrefix)
}

// handleWarmup answers a recognized probe locally with a canned response,
// honoring the client's stream flag but never touching the token manager or
// the dispatch engine.
func (h *MessagesHandler) handleWarmup(c *gin.Context, req *anthropic.MessagesRequest) {
	c.Header("X-Account-Email", "")
	c.Header("X-Mapped-Model", req.Model)
	c.Header("X-Context-Purified", "false")

	if req.Stream {
		h.relayWarmupStream(c, req.Model)
		return
	}
	c.JSON(http.StatusOK, warmupResponse(req.Model))
}

func warmupResponse(model string) *anthropic.MessagesResponse {
	return &anthropic.MessagesResponse{
		ID:         anthropic.GenerateMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "OK"}},
		Model:      model,
		StopReason: "end_turn",
		Usage:      &anthropic.Usage{InputTokens: 1, OutputTokens: 1},
	}
}

func (h *MessagesHandler) relayWarmupStream(c *gin.Context, model string) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dispatch.BuildClaudeError(http.StatusInternalServerError, "streaming not supported"))
		return
	}
	writer.SetHeaders()
	c.Status(http.StatusOK)

	resp := warmupResponse(model)
	events := []translate.StreamEvent{
		{Type: "message_start", Message: &anthropic.MessagesResponse{
			ID: resp.ID, Type: "message", Role: "assistant", Content: []anthropic.ContentBlock{}, Model: model,
			Usage: &anthropic.Usage{InputTokens: resp.Usage.InputTokens},
		}},
		{Type: "content_block_start", Index: 0, ContentBlock: &anthropic.ContentBlock{Type: "text"}},
		{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"type": "text_delta", "text": "OK"}},
		{Type: "content_block_stop", Index: 0},
		{Type: "message_delta", Delta: map[string]interface{}{"stop_reason": "end_turn", "stop_sequence": nil}, Usage: &anthropic.Usage{OutputTokens: resp.Usage.OutputTokens}},
		{Type: "message_stop"},
	}
	for _, event := range events {
		if werr := writer.WriteEvent(event.Type, event); werr != nil {
			utils.Warn("[messages] warmup stream write failed: %v", werr)
			return
		}
	}
}

func (h *MessagesHandler) relayStream(c *gin.Context, result *dispatch.Result) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dispatch.BuildClaudeError(http.StatusInternalServerError, "streaming not supported"))
		return
	}
	writer.SetHeaders()
	c.Status(http.StatusOK)

	for event := range result.StreamEvents {
		if werr := writer.WriteEvent(event.Type, event); werr != nil {
			utils.Warn("[messages] stream write failed: %v", werr)
			return
		}
	}
}

// CountTokens handles POST /v1/messages/count_tokens, a lightweight sibling
// endpoint that only runs the context estimator rather than a full dispatch.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dispatch.BuildClaudeError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": contextmgr.EstimateTokenUsage(&req)})
}

// classifyDispatchError maps a dispatch error onto the Claude-schema error
// envelope and an HTTP status. Pool-exhaustion kinds render as
// overloaded_error per the curated client-facing policy, distinct from
// apierrors.HTTPStatus's internal 503 classification.
func classifyDispatchError(err error) (int, map[string]interface{}) {
	apiErr, ok := err.(*apierrors.Error)
	if !ok {
		return http.StatusInternalServerError, dispatch.BuildClaudeError(http.StatusInternalServerError, err.Error())
	}

	switch apiErr.Kind {
	case apierrors.KindNoAccounts, apierrors.KindMaxRetries:
		return http.StatusServiceUnavailable, map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    "overloaded_error",
				"message": apiErr.Message,
			},
		}
	}

	status := apierrors.HTTPStatus(apiErr)
	return status, dispatch.BuildClaudeError(status, apiErr.Message)
}
