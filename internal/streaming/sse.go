package streaming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxSSELineSize = 10 * 1024 * 1024

// frameWriter emits target-format SSE frames and flushes after each one so
// downstream reads interleave without buffering the full response.
type frameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newFrameWriter(w io.Writer) *frameWriter {
	f, _ := w.(http.Flusher)
	return &frameWriter{w: w, flusher: f}
}

func (f *frameWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(f.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}

func (f *frameWriter) sendDone() error {
	if _, err := fmt.Fprint(f.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}

func (f *frameWriter) sendError(errType, message string) error {
	return f.send("error", map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

// openAILineReader reads an OpenAI-format SSE body, which is a sequence of
// bare "data: <json>" lines terminated by "data: [DONE]". It does not rely
// on blank-line framing since upstream OpenAI-compatible servers vary here.
type openAILineReader struct {
	scanner *bufio.Scanner
}

func newOpenAILineReader(r io.Reader) *openAILineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &openAILineReader{scanner: sc}
}

// Next returns the next chunk's JSON payload, or (nil, io.EOF) once [DONE]
// or the stream closes.
func (r *openAILineReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil, io.EOF
		}
		return []byte(payload), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// anthropicEventReader reads a full "event:"/"data:" framed SSE stream,
// honoring the blank-line frame boundary required by the SSE spec and
// tolerating event/data lines split across separate read chunks via a
// pending-event buffer (an upstream-compatibility behavior that the source
// implementation preserves and the core spec allows but does not require).
type anthropicEventReader struct {
	scanner      *bufio.Scanner
	pendingEvent string
	pendingData  strings.Builder
}

func newAnthropicEventReader(r io.Reader) *anthropicEventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &anthropicEventReader{scanner: sc}
}

type sseFrame struct {
	Event string
	Data  string
}

func (r *anthropicEventReader) Next() (sseFrame, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if r.pendingData.Len() == 0 && r.pendingEvent == "" {
				continue
			}
			frame := sseFrame{Event: r.pendingEvent, Data: r.pendingData.String()}
			r.pendingEvent = ""
			r.pendingData.Reset()
			return frame, nil
		case strings.HasPrefix(line, "event:"):
			r.pendingEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if r.pendingData.Len() > 0 {
				r.pendingData.WriteByte('\n')
			}
			r.pendingData.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseFrame{}, err
	}
	if r.pendingData.Len() > 0 || r.pendingEvent != "" {
		frame := sseFrame{Event: r.pendingEvent, Data: r.pendingData.String()}
		r.pendingEvent = ""
		r.pendingData.Reset()
		return frame, nil
	}
	return sseFrame{}, io.EOF
}
