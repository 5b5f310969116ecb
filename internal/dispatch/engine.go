package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/apierrors"
	"github.com/antigravity-oss/dispatch-engine/internal/arbiter"
	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/contextmgr"
	"github.com/antigravity-oss/dispatch-engine/internal/router"
	"github.com/antigravity-oss/dispatch-engine/internal/session"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
	"github.com/antigravity-oss/dispatch-engine/internal/translate"
	"github.com/antigravity-oss/dispatch-engine/internal/upstream"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// Engine ties the account manager, model router, context compressor,
// translator, and upstream client together into the per-request attempt
// loop described by the dispatch engine's operating contract.
type Engine struct {
	Accounts   AccountManager
	Upstream   UpstreamCaller
	Signatures translate.SignatureTracker
	Validation ValidationBlocker
	Fallback   FallbackProvider
	Debug      DebugSink

	Cfg *config.Config

	RoundRobin *arbiter.RoundRobinCounter
	Calibrator *contextmgr.Calibrator

	ZaiEnabled bool
}

// NewEngine builds an Engine with a fresh calibrator seeded from cfg.
func NewEngine(accounts AccountManager, up UpstreamCaller, sigs translate.SignatureTracker, validation ValidationBlocker, cfg *config.Config) *Engine {
	return &Engine{
		Accounts:   accounts,
		Upstream:   up,
		Signatures: sigs,
		Validation: validation,
		Cfg:        cfg,
		RoundRobin: &arbiter.RoundRobinCounter{},
		Calibrator: contextmgr.NewCalibrator(cfg.EstimatorEWMAAlpha, cfg.Context.CalibratorMin, cfg.Context.CalibratorMax),
	}
}

// Dispatch runs one inbound request through account leasing, routing,
// context compression, translation, and the upstream call, retrying and
// rotating accounts on classified failures until an attempt succeeds or the
// attempt budget is exhausted.
func (e *Engine) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	inbound := req.Anthropic
	if inbound == nil {
		return nil, fmt.Errorf("dispatch: request has no anthropic payload")
	}

	e.writeDebug(req.TraceID, debugKindOriginalRequest, inbound)

	model := e.resolveModel(inbound, req.UserModelOverrides)
	physicalModel := router.MapClaudeModelToGemini(model)
	contextLimit := router.GetContextLimitForModel(physicalModel)
	sessionID := session.ExtractSessionID(inbound)

	if e.Fallback != nil && e.useFallback(physicalModel) {
		resp, err := e.Fallback.ForwardAnthropicJSON(ctx, inbound, req.TraceID)
		if err != nil {
			return nil, err
		}
		return &Result{MappedModel: physicalModel, Response: resp}, nil
	}

	maxAttempts := clampMaxAttempts(e.Accounts.GetAccountCount())

	var lastErr error
	var excludeEmail string
	retriedWithoutThinking := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		selection, err := e.Accounts.SelectAccount(ctx, physicalModel, token.SelectOptions{
			SessionID:    sessionID,
			ExcludeEmail: excludeEmail,
		})
		if err != nil {
			lastErr = err
			if noAcc, ok := err.(*token.NoAccountsError); ok {
				return nil, apierrors.NoAccountsError(noAcc.AllRateLimited)
			}
			return nil, err
		}
		account := selection.Account

		if blocked, reason := e.isValidationBlocked(ctx, account.Email); blocked {
			utils.Warn("[Dispatch] %s is validation-blocked (%s), rotating", account.Email, reason)
			excludeEmail = account.Email
			lastErr = apierrors.New(apierrors.KindAuth, "account validation-blocked: "+reason, 403, false)
			continue
		}

		accessToken, err := e.Accounts.GetTokenForAccount(ctx, account)
		if err != nil {
			lastErr = err
			excludeEmail = account.Email
			continue
		}

		purified, purifyApplied, err := e.prepareRequest(ctx, inbound, physicalModel, contextLimit, req.TraceID, retriedWithoutThinking)
		if err != nil {
			return nil, err
		}

		rawEstimate := contextmgr.EstimateTokenUsage(purified)
		calibratedEstimate := e.Calibrator.Calibrate(rawEstimate)

		googleReq := translate.TransformClaudeRequestIn(ctx, e.Signatures, purified, physicalModel, retriedWithoutThinking)
		body, err := buildEnvelope(projectIDFor(account), physicalModel, googleReq)
		if err != nil {
			return nil, fmt.Errorf("dispatch: build envelope: %w", err)
		}

		e.writeDebug(req.TraceID, debugKindV1InternalRequest, string(body))

		result, retry, classified := e.attemptOnce(ctx, account, physicalModel, accessToken, body, req, calibratedEstimate, contextLimit, retriedWithoutThinking)
		if classified == nil {
			e.Accounts.NotifySuccess(account, physicalModel)
			result.AccountEmail = account.Email
			result.MappedModel = physicalModel
			result.ContextPurified = purifyApplied
			return result, nil
		}

		lastErr = classified
		e.Accounts.NotifyFailure(account, physicalModel)
		e.applyFailureSideEffects(ctx, account, physicalModel, classified)

		if classified.Kind == apierrors.KindSignature && !retriedWithoutThinking {
			retriedWithoutThinking = true
			physicalModel = router.NormalizeToStandardID(physicalModel)
			excludeEmail = ""
			continue
		}

		rotate := apierrors.ShouldRotateAccount(classified.Kind)
		if !retry && !rotate {
			break
		}

		if rotate {
			excludeEmail = account.Email
		} else {
			excludeEmail = ""
		}

		strategy := DetermineRetryStrategy(classified.StatusCode, classified.Message, retriedWithoutThinking)
		ApplyRetryStrategy(strategy, attempt, maxAttempts, func(d time.Duration) {
			_ = utils.Sleep(ctx, d.Milliseconds())
		})
	}

	if classified, ok := lastErr.(*apierrors.Error); ok {
		return nil, classified
	}
	return nil, apierrors.MaxRetriesError(maxAttempts)
}

// resolveModel applies the background-task redirect ahead of the ordinary
// alias/override resolution, since a detected housekeeping call always wins
// regardless of what model the client asked for.
func (e *Engine) resolveModel(req *anthropic.MessagesRequest, overrides map[string]string) string {
	taskType := router.DetectBackgroundTaskType(router.BackgroundTaskRequest{
		System:   systemTextOf(req.System),
		HasTools: len(req.Tools) > 0,
		Thinking: req.Thinking != nil,
	})
	if taskType != "" {
		if bg := router.SelectBackgroundModel(taskType); bg != "" {
			return bg
		}
	}
	return router.ResolveModelRoute(req.Model, overrides)
}

func systemTextOf(system interface{}) string {
	switch v := system.(type) {
	case string:
		return v
	case []anthropic.ContentBlock:
		var out string
		for _, b := range v {
			out += b.Text
		}
		return out
	default:
		return ""
	}
}

func (e *Engine) useFallback(physicalModel string) bool {
	poolSize := e.Accounts.GetAccountCount()
	decision := arbiter.Decision{
		ZaiEnabled:          e.ZaiEnabled,
		DispatchMode:        e.Cfg.DispatchMode,
		PrimaryPoolSize:     poolSize,
		PrimaryHasAvailable: poolSize > 0 && !e.Accounts.IsAllRateLimited(physicalModel),
	}
	return arbiter.UseFallback(decision, e.RoundRobin)
}

func (e *Engine) isValidationBlocked(ctx context.Context, email string) (bool, string) {
	if e.Validation == nil {
		return false, ""
	}
	block, err := e.Validation.GetValidationBlock(ctx, email)
	if err != nil || block == nil {
		return false, ""
	}
	if time.Since(block.BlockedAt) > ValidationBlockTTL {
		return false, ""
	}
	return true, block.Reason
}

// prepareRequest runs the progressive compression pipeline when the
// estimated usage ratio warrants it, returning the (possibly forked)
// request the translator should operate on.
func (e *Engine) prepareRequest(ctx context.Context, req *anthropic.MessagesRequest, physicalModel string, contextLimit int, traceID string, retriedWithoutThinking bool) (*anthropic.MessagesRequest, bool, error) {
	rawEstimate := contextmgr.EstimateTokenUsage(req)
	ratio := float64(e.Calibrator.Calibrate(rawEstimate)) / float64(contextLimit)

	summarizer := &compressionSummarizer{engine: e, ctx: ctx}
	result, err := contextmgr.RunCompression(ctx, req, ratio, e.Cfg.Context, traceID, summarizer, retriedWithoutThinking)
	if err != nil {
		return nil, false, err
	}
	if result.Layer == contextmgr.LayerNone {
		return req, false, nil
	}

	out := *req
	out.Messages = result.Messages
	return &out, true, nil
}

// attemptOnce makes a single HTTP round trip to the upstream and returns
// its result, whether the attempt loop may retry, and the classified
// failure (nil on success).
func (e *Engine) attemptOnce(ctx context.Context, account *store.Account, physicalModel, accessToken string, body []byte, req *Request, rawEstimate, contextLimit int, retriedWithoutThinking bool) (*Result, bool, *apierrors.Error) {
	headers := map[string]string{}
	if config.IsThinkingModel(physicalModel) && len(req.Anthropic.Tools) > 0 && !retriedWithoutThinking {
		headers["anthropic-beta"] = ThinkingBetaHeader
	}

	resp, err := e.Upstream.CallV1InternalWithHeaders(ctx, upstream.MethodStreamGenerateContent, accessToken, body, headers)
	if err != nil {
		classified := apierrors.Classify(0, err.Error())
		e.writeDebug(req.TraceID, debugKindUpstreamResponseErr, classified)
		return nil, classified.Retryable, classified
	}

	if resp.StatusCode != 200 {
		raw, _ := upstream.ReadAll(resp)
		classified := apierrors.Classify(resp.StatusCode, string(raw))
		e.writeDebug(req.TraceID, debugKindUpstreamResponseErr, classified)
		return nil, classified.Retryable, classified
	}

	events, raw, errs := translate.CreateClaudeSSEStream(ctx, e.Signatures, resp.Body, req.TraceID, physicalModel)

	spliced, classified := e.peekFirstChunk(ctx, events, errs)
	if classified != nil {
		e.writeDebug(req.TraceID, debugKindUpstreamResponseErr, classified)
		return nil, classified.Retryable, classified
	}

	if req.ClientWantsStream {
		return &Result{StreamEvents: spliced, StreamRaw: raw}, true, nil
	}

	final, err := translate.CollectStreamToJSON(spliced, errs)
	if err != nil {
		classified := classifyStreamFailure(err)
		e.writeDebug(req.TraceID, debugKindUpstreamResponseErr, classified)
		return nil, classified.Retryable, classified
	}

	if final.Usage != nil {
		e.Calibrator.Observe(rawEstimate, final.Usage.InputTokens+final.Usage.CacheReadInputTokens)
	}

	e.writeDebug(req.TraceID, debugKindUpstreamResponse, final)

	return &Result{Response: final}, false, nil
}

// peekFirstChunk blocks until the first non-heartbeat event arrives on
// events, an error arrives on errs, or config.StreamPeekTimeoutMs elapses, per the
// mandatory streaming peek: no bytes may be relayed to the client, and no
// attempt may be treated as successful, until a real data chunk has been
// observed. On success it returns an adapter channel that replays the
// observed event in front of the rest of the stream, so the upstream call
// is never reissued; on failure it returns the classified, retryable cause
// (empty stream, decode error, or peek timeout all recover locally by
// retrying the attempt loop rather than surfacing to the client).
func (e *Engine) peekFirstChunk(ctx context.Context, events <-chan translate.StreamEvent, errs <-chan error) (<-chan translate.StreamEvent, *apierrors.Error) {
	peekCtx, cancel := context.WithTimeout(ctx, config.StreamPeekTimeoutMs*time.Millisecond)
	defer cancel()

	select {
	case first, ok := <-events:
		if !ok {
			return nil, classifyStreamFailure(drainStreamErr(errs))
		}
		spliced := make(chan translate.StreamEvent, 100)
		go func() {
			defer close(spliced)
			spliced <- first
			for ev := range events {
				spliced <- ev
			}
		}()
		return spliced, nil

	case err := <-errs:
		return nil, classifyStreamFailure(firstNonNilErr(err, drainStreamErr(errs)))

	case <-peekCtx.Done():
		return nil, classifyStreamFailure(fmt.Errorf("stream peek timeout: no chunk observed within %dms", config.StreamPeekTimeoutMs))
	}
}

// drainStreamErr reads whatever CreateClaudeSSEStream left on errs once its
// events channel has closed (or an error case needs a fallback message).
func drainStreamErr(errs <-chan error) error {
	if err, ok := <-errs; ok && err != nil {
		return err
	}
	return fmt.Errorf("stream ended with no content")
}

func firstNonNilErr(first, fallback error) error {
	if first != nil {
		return first
	}
	return fallback
}

// classifyStreamFailure classifies a peek/collection-phase stream error as
// retryable: empty streams, decode errors, and peek timeouts are all
// retried locally by the attempt loop (the failed account is not excluded
// from the next selection), per §7's recovery policy,
// regardless of whether apierrors.Classify's marker matching would
// otherwise have called the message unrecognized.
func classifyStreamFailure(err error) *apierrors.Error {
	classified := apierrors.Classify(0, err.Error())
	classified.Retryable = true
	return classified
}

func (e *Engine) applyFailureSideEffects(ctx context.Context, account *store.Account, physicalModel string, classified *apierrors.Error) {
	switch classified.Kind {
	case apierrors.KindRateLimit:
		resetMs := int64(0)
		if classified.ResetMs != nil {
			resetMs = *classified.ResetMs
		}
		_ = e.Accounts.MarkRateLimited(ctx, account, physicalModel, resetMs)
	case apierrors.KindCapacityExhausted:
		_ = e.Accounts.MarkCapacityExhausted(ctx, account, physicalModel)
	case apierrors.KindAuth:
		if e.Validation != nil && isValidationRequired(classified.Message) {
			_ = e.Validation.SetValidationBlock(ctx, account.Email, classified.Message)
		} else {
			_ = e.Accounts.MarkInvalid(ctx, account.Email, classified.Message)
		}
	}
}

func (e *Engine) writeDebug(traceID, kind string, payload interface{}) {
	if e.Debug == nil || !e.Debug.IsEnabled() {
		return
	}
	e.Debug.WritePayload(traceID, kind, payload)
}

func projectIDFor(account *store.Account) string {
	if account.ProjectID != "" {
		return account.ProjectID
	}
	return config.DefaultProjectID
}
