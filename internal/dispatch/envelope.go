package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/translate"
)

// buildEnvelope wraps a translated GoogleRequest into the project-scoped,
// request-id-stamped shape the v1internal upstream expects, injecting the
// agent identity system hint and the safety-category overrides.
//
// It builds the envelope by patching raw JSON with sjson rather than defining
// a typed Go struct for the envelope: the generation body already has its own
// typed struct, so round-tripping it through a second Go struct just to glue
// five identity fields around it would mean keeping two struct tags in sync
// for one marshal. sjson.SetRawBytes splices the generation body in under
// "request" as-is.
func buildEnvelope(projectID, physicalModel string, body *translate.GoogleRequest) ([]byte, error) {
	body.SystemInstruction = withAgentSystemHint(body.SystemInstruction)

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal generation body: %w", err)
	}

	safety, err := json.Marshal(safetySettings())
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal safety settings: %w", err)
	}
	requestBody, err = sjson.SetRawBytes(requestBody, "safetySettings", safety)
	if err != nil {
		return nil, fmt.Errorf("dispatch: patch safetySettings: %w", err)
	}

	envelope := []byte(`{}`)
	for _, patch := range []struct {
		path  string
		value interface{}
	}{
		{"project", projectID},
		{"requestId", "agent-" + uuid.New().String()},
		{"model", physicalModel},
		{"userAgent", "antigravity"},
		{"requestType", "agent"},
	} {
		envelope, err = sjson.SetBytes(envelope, patch.path, patch.value)
		if err != nil {
			return nil, fmt.Errorf("dispatch: patch %s: %w", patch.path, err)
		}
	}

	envelope, err = sjson.SetRawBytes(envelope, "request", requestBody)
	if err != nil {
		return nil, fmt.Errorf("dispatch: patch request: %w", err)
	}

	return envelope, nil
}

func safetySettings() []map[string]string {
	out := make([]map[string]string, 0, len(config.SafetyCategories))
	for _, category := range config.SafetyCategories {
		out = append(out, map[string]string{"category": category, "threshold": "OFF"})
	}
	return out
}

// withAgentSystemHint prepends the bracketed agent-identity hint ahead of
// whatever system instruction the translator already built, so the model
// sees its operating identity before the caller's own system prompt.
func withAgentSystemHint(existing *translate.GoogleContent) *translate.GoogleContent {
	hint := translate.GooglePart{Text: "[ignore]" + config.AgentSystemInstruction + "[/ignore]"}

	if existing == nil {
		return &translate.GoogleContent{Role: "user", Parts: []translate.GooglePart{hint}}
	}

	parts := make([]translate.GooglePart, 0, len(existing.Parts)+1)
	parts = append(parts, hint)
	parts = append(parts, existing.Parts...)
	return &translate.GoogleContent{Role: "user", Parts: parts}
}
