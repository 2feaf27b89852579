package translate

import (
	"encoding/json"
	"strings"

	"github.com/vandamme/llm-gateway/internal/gwerrors"
)

// OpenAIRequestToAnthropic converts an OpenAI Chat Completions request body
// into an Anthropic Messages request body, grounded on
// openai_chat_completions_to_anthropic_messages: system messages are
// concatenated, tool_calls become tool_use blocks, tool-role messages become
// user messages carrying a tool_result block.
func OpenAIRequestToAnthropic(req OpenAIRequest) (AnthropicRequest, error) {
	maxTokens := req.MaxTokens
	if maxTokens == nil {
		maxTokens = req.MaxCompletion
	}
	if maxTokens == nil {
		return AnthropicRequest{}, gwerrors.New(gwerrors.Validation, "max_tokens or max_completion_tokens is required", nil)
	}

	out := AnthropicRequest{
		Model:     req.Model,
		MaxTokens: *maxTokens,
		Stream:    req.Stream,
	}

	var systemParts []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if text := messageText(m.Content); text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			content := messageText(m.Content)
			out.Messages = append(out.Messages, AnthropicMessage{
				Role: "user",
				Content: []AnthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   json.RawMessage(jsonString(content)),
				}},
			})
		default:
			blocks := []AnthropicContent{}
			if text := messageText(m.Content); text != "" {
				blocks = append(blocks, AnthropicContent{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Function.Arguments
				if !json.Valid([]byte(input)) {
					input = "{}"
				}
				blocks = append(blocks, AnthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(input),
				})
			}
			out.Messages = append(out.Messages, AnthropicMessage{Role: m.Role, Content: blocks})
		}
	}
	out.System = strings.Join(systemParts, "\n\n")

	for _, t := range req.Tools {
		if t.Function == nil {
			continue
		}
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	return out, nil
}

// AnthropicRequestToOpenAI converts an Anthropic Messages request body into
// an OpenAI Chat Completions request body — the symmetric inverse of
// OpenAIRequestToAnthropic, used when a client speaks Anthropic format
// against an OpenAI-format provider.
func AnthropicRequestToOpenAI(req AnthropicRequest) (OpenAIRequest, error) {
	out := OpenAIRequest{
		Model:     req.Model,
		MaxTokens: &req.MaxTokens,
		Stream:    req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, OpenAIMessage{
			Role:    "system",
			Content: json.RawMessage(jsonString(req.System)),
		})
	}

	for _, m := range req.Messages {
		var text strings.Builder
		var toolCalls []OpenAIToolCall
		var toolResultID, toolResultText string

		for _, block := range m.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				args, _ := json.Marshal(block.Input)
				toolCalls = append(toolCalls, OpenAIToolCall{
					ID:   block.ID,
					Type: "function",
					Function: OpenAIToolCallFunc{
						Name:      block.Name,
						Arguments: string(args),
					},
				})
			case "tool_result":
				toolResultID = block.ToolUseID
				toolResultText = rawToText(block.Content)
			}
		}

		if toolResultID != "" {
			out.Messages = append(out.Messages, OpenAIMessage{
				Role:       "tool",
				Content:    json.RawMessage(jsonString(toolResultText)),
				ToolCallID: toolResultID,
			})
			continue
		}

		out.Messages = append(out.Messages, OpenAIMessage{
			Role:      m.Role,
			Content:   json.RawMessage(jsonString(text.String())),
			ToolCalls: toolCalls,
		})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: &OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return out, nil
}

func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// content may be a list of {"type":"text","text":"..."} parts
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
