package translate

import (
	"encoding/json"
	"strings"
)

// AnthropicResponseToOpenAI is the inverse mapping from spec §4.4: text
// blocks concatenate into message.content, tool_use blocks become
// message.tool_calls, and stop_reason maps to finish_reason.
func AnthropicResponseToOpenAI(resp AnthropicResponse) OpenAIResponse {
	var text strings.Builder
	var toolCalls []OpenAIToolCall

	for _, block := range resp.Content {
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
		}
	}

	return OpenAIResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []OpenAIChoice{{
			Index: 0,
			Message: OpenAIRespMessage{
				Role:      "assistant",
				Content:   text.String(),
				ToolCalls: toolCalls,
			},
			FinishReason: anthropicStopToOpenAIFinish(resp.StopReason),
		}},
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func anthropicStopToOpenAIFinish(stopReason string) string {
	switch stopReason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// OpenAIResponseToAnthropic is the "OpenAI -> Claude" response direction:
// symmetric to AnthropicResponseToOpenAI, with an optional tool-name
// recovery table for providers that sanitize tool names on the wire.
func OpenAIResponseToAnthropic(resp OpenAIResponse, toolNameByWireName map[string]string) AnthropicResponse {
	out := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		out.Content = []AnthropicContent{{Type: "text", Text: ""}}
		out.StopReason = "end_turn"
		return out
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, AnthropicContent{Type: "text", Text: choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		name := tc.Function.Name
		if original, ok := toolNameByWireName[name]; ok {
			name = original
		}
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			raw, _ := json.Marshal(map[string]string{"raw_arguments": tc.Function.Arguments})
			input = raw
		}
		out.Content = append(out.Content, AnthropicContent{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  name,
			Input: input,
		})
	}

	if len(out.Content) == 0 {
		out.Content = []AnthropicContent{{Type: "text", Text: ""}}
	}

	out.StopReason = openAIFinishToAnthropicStop(choice.FinishReason)
	return out
}

func openAIFinishToAnthropicStop(finishReason string) string {
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}
