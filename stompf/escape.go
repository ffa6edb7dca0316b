package stompf

import (
	"strings"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// escapeValue applies the STOMP 1.2 header escape alphabet: backslash,
// carriage-return, newline, and colon become two-character escapes. Order
// matters: backslash must be escaped first or later substitutions would
// double-escape their own backslash.
func escapeValue(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeValue reverses escapeValue. An unrecognized escape sequence is a
// protocol error per spec §4.1.
func unescapeValue(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", cos.NewProtocolError("truncated escape sequence")
		}
		i++
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", cos.NewProtocolError("invalid escape sequence: \\%c", s[i])
		}
	}
	return b.String(), nil
}
