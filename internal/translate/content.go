package translate

import (
	"context"
	"encoding/json"

	"github.com/antigravity-oss/dispatch-engine/pkg/anthropic"
)

// GooglePart is a single part of a Gemini v1internal content entry.
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// ConvertRole maps an Anthropic message role to its Gemini content role.
// Gemini has no "assistant" concept; it calls the model's turn "model".
func ConvertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// ConvertContentToParts converts a single message's content blocks to Gemini
// parts. isClaudeModel/isGeminiModel gate the signature-restoration and
// thought-attachment behavior, which differs between the two physical model
// families even though both speak through the same v1internal wire shape.
func ConvertContentToParts(ctx context.Context, tracker SignatureTracker, content []anthropic.ContentBlock, isClaudeModel, isGeminiModel bool) []GooglePart {
	parts := make([]GooglePart, 0, len(content))

	for _, block := range content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}

		case "thinking":
			if block.Thinking == "" {
				continue
			}
			signature := block.Signature
			if signature == "" && isGeminiModel {
				// Claude-originated thinking with no Gemini signature is
				// meaningless upstream; drop the thought marker but keep the
				// text so the turn isn't silently empty.
				parts = append(parts, GooglePart{Text: block.Thinking})
				continue
			}
			parts = append(parts, GooglePart{
				Text:             block.Thinking,
				Thought:          true,
				ThoughtSignature: signature,
			})

		case "redacted_thinking":
			// Redacted thinking carries no usable text; upstream only needs
			// to see that a thought occurred if a signature backs it.
			if block.Signature != "" {
				parts = append(parts, GooglePart{Thought: true, ThoughtSignature: block.Signature})
			}

		case "image", "document":
			if block.Source == nil {
				continue
			}
			if block.Source.URL != "" {
				parts = append(parts, GooglePart{FileData: &FileData{MimeType: block.Source.MediaType, FileURI: block.Source.URL}})
			} else {
				parts = append(parts, GooglePart{InlineData: &InlineData{MimeType: block.Source.MediaType, Data: block.Source.Data}})
			}

		case "tool_use":
			args := map[string]interface{}{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			signature := block.ThoughtSignature
			if signature == "" {
				signature = RestoreToolSignature(ctx, tracker, block.ID)
			} else {
				CacheToolSignature(ctx, tracker, block.ID, signature)
			}
			part := GooglePart{FunctionCall: &FunctionCall{Name: block.Name, Args: args, ID: block.ID}}
			if IsValidSignature(signature) {
				part.ThoughtSignature = signature
			}
			parts = append(parts, part)

		case "tool_result":
			parts = append(parts, GooglePart{FunctionResponse: &FunctionResponse{
				Name:     block.ToolUseID,
				ID:       block.ToolUseID,
				Response: toolResultToResponseMap(block),
			}})
		}
	}

	return parts
}

func toolResultToResponseMap(block anthropic.ContentBlock) map[string]interface{} {
	text := ""
	switch v := block.Content.(type) {
	case string:
		text = v
	case []anthropic.ContentBlock:
		for _, inner := range v {
			if inner.Type == "text" {
				text += inner.Text
			}
		}
	}
	if block.IsError {
		return map[string]interface{}{"error": text}
	}
	return map[string]interface{}{"output": text}
}
