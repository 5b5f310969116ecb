// Package router implements the model router: mapping an inbound model name
// to the physical upstream model that will actually serve the request,
// applying user-configured overrides, alias canonicalization, and the
// background-task redirect.
package router

import (
	"regexp"
	"strings"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

// datedVariantPattern strips a trailing dated-snapshot suffix such as
// "-20250514" or "-2025-05-14" so a dated model name folds to its base name.
var datedVariantPattern = regexp.MustCompile(`-\d{4}-?\d{2}-?\d{2}$`)

// ResolveModelRoute applies userOverrides first, then canonicalizes the
// result. The "-thinking" suffix is significant to the translator and is
// never stripped here; it is only stripped on the one-shot signature-error
// recovery path the dispatch engine drives directly.
func ResolveModelRoute(inboundModel string, userOverrides map[string]string) string {
	model := inboundModel
	if userOverrides != nil {
		if override, ok := userOverrides[inboundModel]; ok && override != "" {
			model = override
		}
	}
	return canonicalize(model)
}

// canonicalize folds a dated snapshot name to its base name, leaving the
// "-thinking" suffix and everything else untouched.
func canonicalize(model string) string {
	thinking := strings.HasSuffix(model, "-thinking")
	base := model
	if thinking {
		base = strings.TrimSuffix(base, "-thinking")
	}
	base = datedVariantPattern.ReplaceAllString(base, "")
	if thinking {
		base += "-thinking"
	}
	return base
}

// NormalizeToStandardID reduces model to the identity used as a rate-limit
// bookkeeping key: the canonical name with the "-thinking" suffix folded
// away, since rate limits are tracked per physical backend model regardless
// of whether thinking is requested on it.
func NormalizeToStandardID(model string) string {
	canonical := canonicalize(model)
	return strings.TrimSuffix(canonical, "-thinking")
}

// MapClaudeModelToGemini resolves a (possibly Claude-named) model to the
// physical Gemini-backend model that will actually serve it, consulting the
// fallback map maintained in internal/config. Models with no configured
// mapping are returned unchanged, since this is also the identity function
// for Gemini-named models that need no translation.
func MapClaudeModelToGemini(model string) string {
	canonical := canonicalize(model)
	if config.GetModelFamily(canonical) == config.ModelFamilyGemini {
		return canonical
	}
	if physical, ok := config.GetFallbackModel(canonical); ok {
		return physical
	}
	return canonical
}

// GetContextLimitForModel returns the upstream context window size, per
// SPEC_FULL.md: 1,000,000 tokens for flash-family models, 2,000,000
// otherwise.
func GetContextLimitForModel(model string) int {
	if strings.Contains(strings.ToLower(model), "flash") {
		return 1_000_000
	}
	return 2_000_000
}

// TaskType enumerates the cheap housekeeping call kinds the router can
// detect and redirect to a cut-down background model.
type TaskType string

const (
	TaskTypeConversationTitle TaskType = "conversation_title"
	TaskTypeSummary           TaskType = "summary"
)

// backgroundModelByTask maps each task type to the cheapest physical model
// capable of serving it. Both entries currently resolve to the same flash
// model; kept as a map (rather than a single constant) since distinct task
// types are expected to diverge as cheaper specialized models become
// available.
var backgroundModelByTask = map[TaskType]string{
	TaskTypeConversationTitle: "gemini-3-flash",
	TaskTypeSummary:           "gemini-3-flash",
}

// backgroundTaskMarkers are substrings of a request's system prompt that
// identify it as a housekeeping call rather than a real conversation turn.
var backgroundTaskMarkers = map[TaskType][]string{
	TaskTypeConversationTitle: {
		"generate a concise title",
		"conversation title",
		"summarize this conversation in a few words",
	},
	TaskTypeSummary: {
		"summarize the conversation",
		"provide a summary of",
	},
}

// BackgroundTaskRequest is the minimal shape the detector needs: the
// system prompt text and whether the caller requested tools/thinking at
// all (a background task never legitimately needs either).
type BackgroundTaskRequest struct {
	System   string
	HasTools bool
	Thinking bool
}

// DetectBackgroundTaskType inspects request for housekeeping markers in its
// system prompt, returning the matched task type or "" if this looks like
// an ordinary conversational request.
func DetectBackgroundTaskType(request BackgroundTaskRequest) TaskType {
	lower := strings.ToLower(request.System)
	if lower == "" {
		return ""
	}
	for taskType, markers := range backgroundTaskMarkers {
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				return taskType
			}
		}
	}
	return ""
}

// SelectBackgroundModel resolves the virtual model id to redirect a
// detected background task to. Returns "" if taskType is unrecognized.
func SelectBackgroundModel(taskType TaskType) string {
	return backgroundModelByTask[taskType]
}
