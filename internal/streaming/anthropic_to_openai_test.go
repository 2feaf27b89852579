package streaming

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicFrame(event string, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

func TestAnthropicToOpenAI_TextDeltaBecomesChunks(t *testing.T) {
	var body strings.Builder
	body.WriteString(anthropicFrame("content_block_start", `{"index":0,"content_block":{"type":"text","text":""}}`))
	body.WriteString(anthropicFrame("content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"hi there"}}`))
	body.WriteString(anthropicFrame("message_delta", `{"delta":{"stop_reason":"end_turn"}}`))
	body.WriteString(anthropicFrame("message_stop", `{"type":"message_stop"}`))

	var out bytes.Buffer
	err := AnthropicToOpenAI(strings.NewReader(body.String()), &out, "chatcmpl_1", "claude-sonnet", func() bool { return false }, nil)
	require.NoError(t, err)

	result := out.String()
	assert.Contains(t, result, `"role":"assistant"`)
	assert.Contains(t, result, `"content":"hi there"`)
	assert.Contains(t, result, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(result, "data: [DONE]\n\n"))

	idxRole := strings.Index(result, `"role":"assistant"`)
	idxContent := strings.Index(result, `"content":"hi there"`)
	idxFinish := strings.Index(result, `"finish_reason":"stop"`)
	assert.True(t, idxRole < idxContent)
	assert.True(t, idxContent < idxFinish)
}

func TestAnthropicToOpenAI_ToolUseBecomesToolCallDelta(t *testing.T) {
	var body strings.Builder
	body.WriteString(anthropicFrame("content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`))
	body.WriteString(anthropicFrame("content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":\"nyc\"}"}}`))
	body.WriteString(anthropicFrame("message_delta", `{"delta":{"stop_reason":"tool_use"}}`))
	body.WriteString(anthropicFrame("message_stop", `{"type":"message_stop"}`))

	var out bytes.Buffer
	err := AnthropicToOpenAI(strings.NewReader(body.String()), &out, "chatcmpl_1", "claude-sonnet", func() bool { return false }, nil)
	require.NoError(t, err)

	result := out.String()
	assert.Contains(t, result, `"id":"toolu_1"`)
	assert.Contains(t, result, `"name":"get_weather"`)
	assert.Contains(t, result, `"finish_reason":"tool_calls"`)
}

func TestAnthropicToOpenAI_FinalizesOnceEvenWithoutMessageDelta(t *testing.T) {
	var body strings.Builder
	body.WriteString(anthropicFrame("content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"x"}}`))
	body.WriteString(anthropicFrame("message_stop", `{"type":"message_stop"}`))

	var out bytes.Buffer
	err := AnthropicToOpenAI(strings.NewReader(body.String()), &out, "chatcmpl_1", "claude-sonnet", func() bool { return false }, nil)
	require.NoError(t, err)

	result := out.String()
	assert.Equal(t, 1, strings.Count(result, `"finish_reason":"stop"`))
}

func TestAnthropicToOpenAI_CancelEmitsSingleErrorFrame(t *testing.T) {
	var body strings.Builder
	body.WriteString(anthropicFrame("content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"partial"}}`))
	body.WriteString(anthropicFrame("message_stop", `{"type":"message_stop"}`))

	var out bytes.Buffer
	calls := 0
	disconnected := func() bool { calls++; return calls > 1 }
	cancelled := false

	err := AnthropicToOpenAI(strings.NewReader(body.String()), &out, "chatcmpl_1", "claude-sonnet", disconnected, func() { cancelled = true })
	require.NoError(t, err)
	assert.True(t, cancelled)
	result := out.String()
	assert.Contains(t, result, `"type":"error"`)
	assert.NotContains(t, result, "[DONE]")
}
