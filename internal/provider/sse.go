package provider

import (
	"bufio"
	"bytes"
	"io"

	"github.com/openpipe/completions-gateway/internal/stream"
)

const (
	// maxSSELineSize bounds a single SSE data line (1MB).
	maxSSELineSize = 1 << 20
)

// consumeSSE reads an event stream body and produces raw chunk payloads.
// The stream closes normally on "[DONE]" or EOF; a read error after partial
// output is delivered to consumers only after the buffered chunks, so
// whatever was generated is still observable downstream.
func consumeSSE(body io.ReadCloser, s *stream.Stream) {
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			s.Close(nil)
			return
		}
		// Scanner reuses its buffer; chunks outlive the loop.
		chunk := make([]byte, len(payload))
		copy(chunk, payload)
		_ = s.Send(chunk)
	}
	s.Close(scanner.Err())
}
