package llm

import (
	"bufio"
	"io"
	"strings"
)

// doneFrame is the sentinel payload that terminates an SSE completion
// stream.
const doneFrame = "[DONE]"

// sseScanner reads server-sent events from a response body and yields the
// payload of each `data:` frame. Multi-line data fields within one event
// are joined by newlines per the SSE format; comment and field lines other
// than data are ignored.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &sseScanner{scanner: scanner}
}

// Next returns the payload of the next event. io.EOF signals the end of the
// stream; the caller is responsible for recognizing the [DONE] sentinel.
func (s *sseScanner) Next() (string, error) {
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if len(data) > 0 {
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}
