package orchestrator

import (
	"strings"

	"github.com/vandamme/llm-gateway/internal/translate"
)

// sanitizeToolNames rewrites tool/function names to the conservative
// [A-Za-z0-9_-] subset some providers require, returning both the rewritten
// tool list and the wire-name -> original-name map the response side needs
// to restore the names the client actually sent.
func sanitizeToolNames(tools []translate.AnthropicTool) ([]translate.AnthropicTool, map[string]string) {
	inverse := make(map[string]string, len(tools))
	out := make([]translate.AnthropicTool, len(tools))
	for i, t := range tools {
		wire := sanitizeName(t.Name)
		inverse[wire] = t.Name
		t.Name = wire
		out[i] = t
	}
	return out, inverse
}

func sanitizeOpenAITools(tools []translate.OpenAITool) ([]translate.OpenAITool, map[string]string) {
	inverse := make(map[string]string, len(tools))
	out := make([]translate.OpenAITool, len(tools))
	for i, t := range tools {
		if t.Function == nil {
			out[i] = t
			continue
		}
		wire := sanitizeName(t.Function.Name)
		inverse[wire] = t.Function.Name
		fn := *t.Function
		fn.Name = wire
		t.Function = &fn
		out[i] = t
	}
	return out, inverse
}

// restoreToolNames rewrites tool_use block names in place using a
// wire-name -> original-name map, undoing sanitizeToolNames before the
// response is translated back to the client's format.
func restoreToolNames(resp translate.AnthropicResponse, wireToOriginal map[string]string) {
	if len(wireToOriginal) == 0 {
		return
	}
	for i, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		if original, ok := wireToOriginal[block.Name]; ok {
			resp.Content[i].Name = original
		}
	}
}

// restoreOpenAIToolNames is the OpenAI-response counterpart of
// restoreToolNames, undoing sanitizeOpenAITools on tool_calls.
func restoreOpenAIToolNames(resp translate.OpenAIResponse, wireToOriginal map[string]string) {
	if len(wireToOriginal) == 0 {
		return
	}
	for i := range resp.Choices {
		for j, tc := range resp.Choices[i].Message.ToolCalls {
			if original, ok := wireToOriginal[tc.Function.Name]; ok {
				resp.Choices[i].Message.ToolCalls[j].Function.Name = original
			}
		}
	}
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
