package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIRequestToAnthropic_BasicText(t *testing.T) {
	maxTokens := 512
	req := OpenAIRequest{
		Model:     "gpt-4o",
		MaxTokens: &maxTokens,
		Messages: []OpenAIMessage{
			{Role: "system", Content: json.RawMessage(`"be concise"`)},
			{Role: "user", Content: json.RawMessage(`"hello there"`)},
		},
	}

	out, err := OpenAIRequestToAnthropic(req)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, 512, out.MaxTokens)
	assert.Equal(t, "be concise", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "hello there", out.Messages[0].Content[0].Text)
}

func TestOpenAIRequestToAnthropic_RequiresMaxTokens(t *testing.T) {
	_, err := OpenAIRequestToAnthropic(OpenAIRequest{Model: "gpt-4o"})
	require.Error(t, err)
}

func TestOpenAIRequestToAnthropic_ToolCallBecomesToolUse(t *testing.T) {
	maxTokens := 100
	req := OpenAIRequest{
		Model:     "gpt-4o",
		MaxTokens: &maxTokens,
		Messages: []OpenAIMessage{
			{
				Role: "assistant",
				ToolCalls: []OpenAIToolCall{
					{ID: "call_1", Type: "function", Function: OpenAIToolCallFunc{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
				},
			},
			{Role: "tool", ToolCallID: "call_1", Content: json.RawMessage(`"72F and sunny"`)},
		},
	}

	out, err := OpenAIRequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)

	toolUse := out.Messages[0].Content[0]
	assert.Equal(t, "tool_use", toolUse.Type)
	assert.Equal(t, "get_weather", toolUse.Name)
	assert.Equal(t, "call_1", toolUse.ID)

	toolResult := out.Messages[1].Content[0]
	assert.Equal(t, "tool_result", toolResult.Type)
	assert.Equal(t, "call_1", toolResult.ToolUseID)
}

func TestAnthropicRequestToOpenAI_RoundTripsToolCall(t *testing.T) {
	req := AnthropicRequest{
		Model:     "claude-sonnet",
		System:    "be terse",
		MaxTokens: 256,
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContent{{Type: "text", Text: "what's the weather"}}},
			{Role: "assistant", Content: []AnthropicContent{
				{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
			}},
			{Role: "user", Content: []AnthropicContent{
				{Type: "tool_result", ToolUseID: "toolu_1", Content: json.RawMessage(`"72F and sunny"`)},
			}},
		},
	}

	out, err := AnthropicRequestToOpenAI(req)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", out.Model)
	require.NotNil(t, out.MaxTokens)
	assert.Equal(t, 256, *out.MaxTokens)

	require.Len(t, out.Messages, 4) // system + user + assistant(tool_calls) + tool
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "assistant", out.Messages[2].Role)
	require.Len(t, out.Messages[2].ToolCalls, 1)
	assert.Equal(t, "get_weather", out.Messages[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", out.Messages[3].Role)
	assert.Equal(t, "toolu_1", out.Messages[3].ToolCallID)
}

func TestAnthropicResponseToOpenAI_MapsStopReasonAndToolCalls(t *testing.T) {
	resp := AnthropicResponse{
		ID:    "msg_1",
		Model: "claude-sonnet",
		Content: []AnthropicContent{
			{Type: "text", Text: "let me check that"},
			{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
		},
		StopReason: "tool_use",
		Usage:      AnthropicUsage{InputTokens: 10, OutputTokens: 20},
	}

	out := AnthropicResponseToOpenAI(resp)
	assert.Equal(t, "chat.completion", out.Object)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "let me check that", out.Choices[0].Message.Content)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.Choices[0].Message.ToolCalls[0].Function.Name)
	assert.Equal(t, 30, out.Usage.TotalTokens)
}

func TestOpenAIResponseToAnthropic_RestoresSanitizedToolName(t *testing.T) {
	resp := OpenAIResponse{
		ID:    "chatcmpl_1",
		Model: "gpt-4o",
		Choices: []OpenAIChoice{{
			Message: OpenAIRespMessage{
				Role: "assistant",
				ToolCalls: []OpenAIToolCall{
					{ID: "call_1", Type: "function", Function: OpenAIToolCallFunc{Name: "get_weather_sanitized", Arguments: `{"city":"nyc"}`}},
				},
			},
			FinishReason: "tool_calls",
		}},
	}

	out := OpenAIResponseToAnthropic(resp, map[string]string{"get_weather_sanitized": "get_weather"})
	require.Len(t, out.Content, 1)
	assert.Equal(t, "get_weather", out.Content[0].Name)
	assert.Equal(t, "tool_use", out.StopReason)
}

func TestOpenAIResponseToAnthropic_EmptyChoicesYieldsEmptyText(t *testing.T) {
	out := OpenAIResponseToAnthropic(OpenAIResponse{ID: "x"}, nil)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.Equal(t, "end_turn", out.StopReason)
}

func TestOpenAIResponseToAnthropic_InvalidArgumentsBecomeRawField(t *testing.T) {
	resp := OpenAIResponse{
		Choices: []OpenAIChoice{{
			Message: OpenAIRespMessage{
				ToolCalls: []OpenAIToolCall{
					{ID: "call_1", Function: OpenAIToolCallFunc{Name: "f", Arguments: "not json"}},
				},
			},
		}},
	}
	out := OpenAIResponseToAnthropic(resp, nil)
	require.Len(t, out.Content, 1)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(out.Content[0].Input, &parsed))
	assert.Equal(t, "not json", parsed["raw_arguments"])
}
