package streaming

import (
	"bufio"
	"io"
	"net/http"
)

// RawRelay forwards an upstream SSE body verbatim when the provider already
// speaks the client's wire format (no conversion needed), while still
// honoring the same per-iteration cancellation contract as the two
// converting directions: on disconnect it cancels upstream and emits a
// single SSE error frame instead of continuing the raw copy.
func RawRelay(upstream io.Reader, out io.Writer, disconnected func() bool, cancelUpstream CancelFunc) error {
	flusher, _ := out.(http.Flusher)
	reader := bufio.NewReaderSize(upstream, 64*1024)

	for {
		if disconnected != nil && disconnected() {
			if cancelUpstream != nil {
				cancelUpstream()
			}
			return newFrameWriter(out).sendError("cancelled", "Request was cancelled by client")
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := out.Write(line); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return newFrameWriter(out).sendError("api_error", "streaming read error: "+err.Error())
		}
	}
}
