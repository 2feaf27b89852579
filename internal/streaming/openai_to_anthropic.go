package streaming

import (
	"encoding/json"
	"io"
)

// CancelFunc requests that the upstream call be aborted; it must be safe to
// call at most once and a no-op afterward.
type CancelFunc func()

// OpenAIToAnthropic converts an upstream OpenAI-format SSE body into an
// Anthropic Messages SSE stream, following the processing/termination/
// cancellation rules: initial message_start/content_block_start/ping once,
// then per-chunk text and tool-call deltas, then termination events unless
// the request was cancelled or a parse error occurred.
//
// disconnected is polled once per loop iteration; when it reports true the
// machine cancels the upstream call, emits a single SSE error frame, and
// returns without the normal termination events.
func OpenAIToAnthropic(upstream io.Reader, out io.Writer, messageID, model string, toolNameByWireName map[string]string, disconnected func() bool, cancelUpstream CancelFunc) error {
	fw := newFrameWriter(out)
	reader := newOpenAILineReader(upstream)

	if err := fw.send("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": messageID, "type": "message", "role": "assistant", "model": model,
			"content": []any{}, "stop_reason": nil, "stop_sequence": nil,
			"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	}); err != nil {
		return err
	}
	if err := fw.send("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]string{"type": "text", "text": ""},
	}); err != nil {
		return err
	}
	if err := fw.send("ping", map[string]string{"type": "ping"}); err != nil {
		return err
	}

	const textBlockIndex = 0
	toolBlockCounter := 0
	idAllocator := NewToolCallIDAllocator("toolu_" + messageID)
	argsAssembler := NewArgsAssembler()
	toolCalls := make(map[int]*ToolCallIndexState)
	finalStopReason := "end_turn"
	usage := map[string]int{"input_tokens": 0, "output_tokens": 0}

	for {
		if disconnected != nil && disconnected() {
			if cancelUpstream != nil {
				cancelUpstream()
			}
			return fw.sendError("cancelled", "Request was cancelled by client")
		}

		chunkData, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fw.sendError("api_error", "streaming read error: "+err.Error())
		}

		var chunk struct {
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
			Choices []struct {
				Delta struct {
					Content   *string `json:"content"`
					ToolCalls []struct {
						Index    int     `json:"index"`
						ID       *string `json:"id"`
						Function struct {
							Name      *string `json:"name"`
							Arguments *string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
		}
		if jsonErr := json.Unmarshal(chunkData, &chunk); jsonErr != nil {
			return fw.sendError("api_error", "failed to parse upstream chunk: "+jsonErr.Error())
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage["input_tokens"] = chunk.Usage.PromptTokens
			usage["output_tokens"] = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != nil {
			if err := fw.send("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": textBlockIndex,
				"delta": map[string]string{"type": "text_delta", "text": *choice.Delta.Content},
			}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			state, ok := toolCalls[tc.Index]
			if !ok {
				state = &ToolCallIndexState{Index: tc.Index}
				toolCalls[tc.Index] = state
			}
			if tc.ID != nil && *tc.ID != "" {
				state.ToolID = idAllocator.Get(tc.Index, *tc.ID)
			} else if state.ToolID == "" {
				state.ToolID = idAllocator.Get(tc.Index, "")
			}
			if tc.Function.Name != nil && *tc.Function.Name != "" {
				state.ToolName = *tc.Function.Name
			}

			if state.ToolID != "" && state.ToolName != "" && !state.Started {
				toolBlockCounter++
				state.OutputIndex = textBlockIndex + toolBlockCounter
				state.Started = true

				name := state.ToolName
				if original, ok := toolNameByWireName[name]; ok {
					name = original
				}
				if err := fw.send("content_block_start", map[string]any{
					"type": "content_block_start", "index": state.OutputIndex,
					"content_block": map[string]any{
						"type": "tool_use", "id": state.ToolID, "name": name, "input": map[string]any{},
					},
				}); err != nil {
					return err
				}
			}

			if tc.Function.Arguments != nil && state.Started {
				state.ArgsBuffer = argsAssembler.Append(tc.Index, *tc.Function.Arguments)
				if !state.JSONSent && IsCompleteJSON(state.ArgsBuffer) {
					if err := fw.send("content_block_delta", map[string]any{
						"type": "content_block_delta", "index": state.OutputIndex,
						"delta": map[string]string{"type": "input_json_delta", "partial_json": state.ArgsBuffer},
					}); err != nil {
						return err
					}
					state.JSONSent = true
				}
			}
		}

		if choice.FinishReason != nil {
			finalStopReason = openAIFinishToStopReason(*choice.FinishReason)
			break
		}
	}

	if err := fw.send("content_block_stop", map[string]any{"type": "content_block_stop", "index": textBlockIndex}); err != nil {
		return err
	}
	for _, state := range toolCalls {
		if state.Started {
			if err := fw.send("content_block_stop", map[string]any{"type": "content_block_stop", "index": state.OutputIndex}); err != nil {
				return err
			}
		}
	}
	if err := fw.send("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{"stop_reason": finalStopReason, "stop_sequence": nil},
		"usage": usage,
	}); err != nil {
		return err
	}
	return fw.send("message_stop", map[string]string{"type": "message_stop"})
}

func openAIFinishToStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "stop":
		return "end_turn"
	default:
		return "end_turn"
	}
}
