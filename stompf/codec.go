package stompf

import (
	"strconv"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

const (
	DefaultMaxHeaderBytes = 64 * 1024
	DefaultMaxBodyBytes   = 10 * 1024 * 1024
)

// Codec is a streaming STOMP frame decoder. It is not safe for concurrent
// use; each connection owns exactly one Codec (see spec §3 Ownership).
type Codec struct {
	buf            []byte
	maxHeaderBytes int
	maxBodyBytes   int
}

type Option func(*Codec)

func WithMaxHeaderBytes(n int) Option { return func(c *Codec) { c.maxHeaderBytes = n } }
func WithMaxBodyBytes(n int) Option   { return func(c *Codec) { c.maxBodyBytes = n } }

func NewCodec(opts ...Option) *Codec {
	c := &Codec{maxHeaderBytes: DefaultMaxHeaderBytes, maxBodyBytes: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Feed appends b to the internal buffer and returns every complete frame
// (including heartbeats) that can now be extracted. A non-nil error is
// fatal to the connection (spec §4.1); any frames returned alongside it
// were fully parsed before the malformed data was reached.
func (c *Codec) Feed(b []byte) ([]Frame, error) {
	if len(b) > 0 {
		c.buf = append(c.buf, b...)
	}

	var out []Frame
	for {
		f, n, err := c.parseOne(c.buf)
		if err != nil {
			return out, err
		}
		if n == 0 {
			break // incomplete; wait for more bytes
		}
		c.buf = c.buf[n:]
		out = append(out, f)
	}
	return out, nil
}

// parseOne attempts to parse a single frame (or heartbeat) from the front of
// buf. It returns n == 0 when buf does not yet hold a complete frame.
func (c *Codec) parseOne(buf []byte) (Frame, int, error) {
	p := 0

	// resync: skip leading CRLF/NUL between frames
	for p < len(buf) && (buf[p] == '\r' || buf[p] == 0) {
		p++
	}
	if p >= len(buf) {
		return Frame{}, 0, nil // padding only; skipped again with the next frame
	}

	if buf[p] == '\n' {
		return Heartbeat, p + 1, nil
	}

	// command line
	nl := indexByte(buf[p:], '\n')
	if nl < 0 {
		if len(buf)-p > c.maxHeaderBytes {
			return Frame{}, 0, cos.NewProtocolError("command line exceeds %d bytes", c.maxHeaderBytes)
		}
		return Frame{}, 0, nil
	}
	line := buf[p : p+nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	cmd := Command(line)
	if !known[cmd] {
		return Frame{}, 0, cos.NewProtocolError("unknown command: %q", string(line))
	}
	pos := p + nl + 1

	// headers: read lines until an empty one
	var headers []Header
	headerBytes := nl
	for {
		if pos-p > c.maxHeaderBytes {
			return Frame{}, 0, cos.NewProtocolError("headers exceed %d bytes", c.maxHeaderBytes)
		}
		hnl := indexByte(buf[pos:], '\n')
		if hnl < 0 {
			if len(buf)-pos > c.maxHeaderBytes {
				return Frame{}, 0, cos.NewProtocolError("headers exceed %d bytes", c.maxHeaderBytes)
			}
			return Frame{}, 0, nil // incomplete
		}
		hline := buf[pos : pos+hnl]
		if len(hline) > 0 && hline[len(hline)-1] == '\r' {
			hline = hline[:len(hline)-1]
		}
		headerBytes += hnl
		pos += hnl + 1
		if len(hline) == 0 {
			break // end of headers
		}
		colon := indexByte(hline, ':')
		if colon < 0 {
			return Frame{}, 0, cos.NewProtocolError("malformed header: %q", string(hline))
		}
		name, err := unescapeValue(string(hline[:colon]))
		if err != nil {
			return Frame{}, 0, err
		}
		value, err := unescapeValue(string(hline[colon+1:]))
		if err != nil {
			return Frame{}, 0, err
		}
		headers = append(headers, Header{Name: name, Value: value})
	}

	bodyStart := pos
	clStr, hasCL := firstHeader(headers, "content-length")
	if hasCL {
		n, err := strconv.Atoi(clStr)
		if err != nil || n < 0 {
			return Frame{}, 0, cos.NewProtocolError("invalid content-length: %q", clStr)
		}
		if n > c.maxBodyBytes {
			return Frame{}, 0, cos.NewProtocolError("body exceeds %d bytes", c.maxBodyBytes)
		}
		need := bodyStart + n + 1 // + NUL
		if len(buf) < need {
			return Frame{}, 0, nil
		}
		if buf[bodyStart+n] != 0 {
			return Frame{}, 0, cos.NewProtocolError("expected NUL after content-length body")
		}
		body := buf[bodyStart : bodyStart+n]
		return Frame{Command: cmd, Headers: headers, Body: body}, skipFrameEOL(buf, need), nil
	}

	nulIdx := indexByte(buf[bodyStart:], 0)
	if nulIdx < 0 {
		if len(buf)-bodyStart > c.maxBodyBytes {
			return Frame{}, 0, cos.NewProtocolError("body exceeds %d bytes", c.maxBodyBytes)
		}
		return Frame{}, 0, nil
	}
	if nulIdx > c.maxBodyBytes {
		return Frame{}, 0, cos.NewProtocolError("body exceeds %d bytes", c.maxBodyBytes)
	}
	body := buf[bodyStart : bodyStart+nulIdx]
	return Frame{Command: cmd, Headers: headers, Body: body}, skipFrameEOL(buf, bodyStart+nulIdx+1), nil
}

// skipFrameEOL advances end past one EOL ("\n" or "\r\n") that directly
// follows a frame's NUL, so that padding is not reported as a heartbeat.
func skipFrameEOL(buf []byte, end int) int {
	if end < len(buf) && buf[end] == '\n' {
		return end + 1
	}
	if end+1 < len(buf) && buf[end] == '\r' && buf[end+1] == '\n' {
		return end + 2
	}
	return end
}

func firstHeader(hs []Header, name string) (string, bool) {
	for _, h := range hs {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
