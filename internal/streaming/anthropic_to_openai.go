package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// AnthropicToOpenAI converts an upstream Anthropic-format SSE body into an
// OpenAI Chat Completions SSE stream: content_block_start/delta/stop and
// message_delta become delta.role / delta.content / delta.tool_calls chunks,
// terminating with a finish_reason chunk derived from stop_reason followed
// by "data: [DONE]".
func AnthropicToOpenAI(upstream io.Reader, out io.Writer, completionID, model string, disconnected func() bool, cancelUpstream CancelFunc) error {
	fw := newFrameWriter(out)
	reader := newAnthropicEventReader(upstream)
	created := int(time.Now().Unix())

	toolCallIDByIndex := make(map[int]string)
	toolNameByIndex := make(map[int]string)
	emittedToolStart := make(map[int]bool)
	emittedRole := false
	finished := false

	emitRoleDelta := func() error {
		if emittedRole {
			return nil
		}
		emittedRole = true
		return fw.sendChunk(chatChunk(completionID, model, created, map[string]any{"role": "assistant"}, nil))
	}

	emitToolDelta := func(index int, name, argsDelta *string) error {
		toolID, ok := toolCallIDByIndex[index]
		if !ok {
			toolID = fmt.Sprintf("call-%s-%d", completionID, index)
			toolCallIDByIndex[index] = toolID
		}
		fn := map[string]string{}
		if name != nil {
			fn["name"] = *name
		}
		if argsDelta != nil {
			fn["arguments"] = *argsDelta
		}
		entry := map[string]any{"index": index, "id": toolID, "type": "function"}
		if len(fn) > 0 {
			entry["function"] = fn
		}
		return fw.sendChunk(chatChunk(completionID, model, created, map[string]any{
			"tool_calls": []any{entry},
		}, nil))
	}

	emitTextDelta := func(text string) error {
		return fw.sendChunk(chatChunk(completionID, model, created, map[string]any{"content": text}, nil))
	}

	emitFinish := func(reason string) error {
		return fw.sendChunk(chatChunk(completionID, model, created, map[string]any{}, &reason))
	}

	for {
		if disconnected != nil && disconnected() {
			if cancelUpstream != nil {
				cancelUpstream()
			}
			return fw.sendError("cancelled", "Request was cancelled by client")
		}

		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fw.sendError("api_error", "streaming read error: "+err.Error())
		}
		if frame.Event == "" || frame.Data == "" {
			continue
		}

		if err := emitRoleDelta(); err != nil {
			return err
		}

		switch frame.Event {
		case "content_block_start":
			var payload struct {
				Index        int `json:"index"`
				ContentBlock struct {
					Type string `json:"type"`
					Name string `json:"name"`
					ID   string `json:"id"`
				} `json:"content_block"`
			}
			if json.Unmarshal([]byte(frame.Data), &payload) != nil {
				continue
			}
			if payload.ContentBlock.Type != "tool_use" {
				continue
			}
			if payload.ContentBlock.Name != "" {
				toolNameByIndex[payload.Index] = payload.ContentBlock.Name
			}
			if payload.ContentBlock.ID != "" {
				toolCallIDByIndex[payload.Index] = payload.ContentBlock.ID
			}
			emittedToolStart[payload.Index] = true
			name := toolNameByIndex[payload.Index]
			if err := emitToolDelta(payload.Index, &name, nil); err != nil {
				return err
			}

		case "content_block_delta":
			var payload struct {
				Index int `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if json.Unmarshal([]byte(frame.Data), &payload) != nil {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				if payload.Delta.Text != "" {
					if err := emitTextDelta(payload.Delta.Text); err != nil {
						return err
					}
				}
			case "input_json_delta":
				if payload.Delta.PartialJSON == "" {
					continue
				}
				if !emittedToolStart[payload.Index] {
					emittedToolStart[payload.Index] = true
					name := toolNameByIndex[payload.Index]
					if err := emitToolDelta(payload.Index, &name, nil); err != nil {
						return err
					}
				}
				partial := payload.Delta.PartialJSON
				if err := emitToolDelta(payload.Index, nil, &partial); err != nil {
					return err
				}
			}

		case "message_delta":
			var payload struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			if json.Unmarshal([]byte(frame.Data), &payload) != nil {
				continue
			}
			if !finished {
				finished = true
				if err := emitFinish(anthropicStopToFinishReason(payload.Delta.StopReason)); err != nil {
					return err
				}
			}

		case "message_stop":
			goto done
		}
	}

done:
	if !finished {
		if err := emitFinish("stop"); err != nil {
			return err
		}
	}
	return fw.sendDone()
}

func anthropicStopToFinishReason(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

func chatChunk(id, model string, created int, delta map[string]any, finishReason *string) map[string]any {
	return map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
}

// sendChunk writes a bare "data: <json>\n\n" frame (OpenAI-format streams
// have no event: line).
func (f *frameWriter) sendChunk(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}
