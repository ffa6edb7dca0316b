// Package stompf implements the STOMP 1.2 frame wire format: a streaming
// decoder (Codec.Feed) and the inverse encoder (Frame.WriteTo). See spec §4.1.
//
// Adapted from the incremental-parse style of the teacher's transport.pdu —
// track a read/write offset into an internal buffer and resume on the next
// Feed rather than requiring the whole frame up front.
package stompf

// Command is one of the STOMP 1.2 commands this relay speaks. An empty
// Command denotes the heartbeat pseudo-frame.
type Command string

const (
	CmdCONNECT    Command = "CONNECT"
	CmdCONNECTED  Command = "CONNECTED"
	CmdSEND       Command = "SEND"
	CmdSUBSCRIBE  Command = "SUBSCRIBE"
	CmdMESSAGE    Command = "MESSAGE"
	CmdRECEIPT    Command = "RECEIPT"
	CmdERROR      Command = "ERROR"
	CmdDISCONNECT Command = "DISCONNECT"
)

// known holds every command this decoder accepts on the wire. STOMP
// transaction commands (BEGIN/COMMIT/ABORT), ACK/NACK, and UNSUBSCRIBE are
// deliberately absent: transactions and multi-subscription fan-out are
// spec.md Non-goals, so frames naming them are protocol errors here.
var known = map[Command]bool{
	CmdCONNECT: true, CmdCONNECTED: true, CmdSEND: true, CmdSUBSCRIBE: true,
	CmdMESSAGE: true, CmdRECEIPT: true, CmdERROR: true, CmdDISCONNECT: true,
}

// Header is one (name, value) wire pair. Order is preserved on both decode
// and encode; Frame.Get implements the "first occurrence wins" lookup rule.
type Header struct {
	Name  string
	Value string
}

// Frame is the decoded/encodable unit of the protocol. Command == "" marks
// the heartbeat pseudo-frame (a lone newline on the wire).
type Frame struct {
	Command Command
	Headers []Header
	Body    []byte
}

// Heartbeat is the canonical heartbeat pseudo-frame.
var Heartbeat = Frame{}

func (f Frame) IsHeartbeat() bool { return f.Command == "" }

// Get returns the value of the first occurrence of name among f.Headers.
func (f Frame) Get(name string) (string, bool) {
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// Add appends a header, preserving any existing occurrences of the same
// name (callers that want "set" semantics should use Set).
func (f *Frame) Add(name, value string) {
	f.Headers = append(f.Headers, Header{Name: name, Value: value})
}

// Set replaces the first occurrence of name, or appends if absent.
func (f *Frame) Set(name, value string) {
	for i := range f.Headers {
		if f.Headers[i].Name == name {
			f.Headers[i].Value = value
			return
		}
	}
	f.Add(name, value)
}

func New(cmd Command, headers ...Header) Frame {
	return Frame{Command: cmd, Headers: headers}
}

func H(name, value string) Header { return Header{Name: name, Value: value} }
