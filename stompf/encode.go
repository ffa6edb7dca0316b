package stompf

import (
	"io"
	"strconv"
)

// WriteTo serializes f onto w in STOMP 1.2 wire format: command line,
// escaped headers, a blank line, the body, and a trailing NUL. A
// content-length header is injected automatically when Body is non-empty
// and the caller didn't already set one explicitly.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	if f.IsHeartbeat() {
		n, err := w.Write([]byte{'\n'})
		return int64(n), err
	}

	var buf []byte
	buf = append(buf, f.Command...)
	buf = append(buf, '\n')

	_, hasCL := f.Get("content-length")
	for _, h := range f.Headers {
		buf = append(buf, escapeValue(h.Name)...)
		buf = append(buf, ':')
		buf = append(buf, escapeValue(h.Value)...)
		buf = append(buf, '\n')
	}
	if len(f.Body) > 0 && !hasCL {
		buf = append(buf, "content-length:"...)
		buf = strconv.AppendInt(buf, int64(len(f.Body)), 10)
		buf = append(buf, '\n')
	}
	buf = append(buf, '\n')
	buf = append(buf, f.Body...)
	buf = append(buf, 0)

	n, err := w.Write(buf)
	return int64(n), err
}
