// Package protocol implements the client- and server-side STOMP
// ProtocolEngine state machines (spec §4.3, §4.4): CONNECT/CONNECTED
// handshake, heartbeat negotiation and enforcement, and the writer/watchdog
// tasks that drive bytes on and off the wire. Built on stompf.Codec for
// framing and wqueue.Queue for the send/recv boundary.
package protocol

import (
	"time"
)

// State is the connection lifecycle, shared in spirit by both engines
// (spec §4.3/§4.4); ServerEngine never visits StateConnecting.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Message is an outbound application payload bound for SEND (client side).
type Message struct {
	ID          string
	Destination string
	ContentType string
	Body        []byte
}

// SendDone builds the poisoned sentinel pushed onto a send-queue to request
// a graceful shutdown (spec §4.3 step 3, "None"). A queue of SendItem carries
// it as a distinct variant rather than a nil message so `switch` stays
// exhaustive.
type sendKind int

const (
	sendMessage sendKind = iota
	sendDone
	sendServerError
	sendReceipt
)

// SendItem is the single type multiplexed through both engines' send-queues:
// a Message/receipt string to emit, a ServerError to report then close, or
// Done to shut down gracefully.
type SendItem struct {
	kind    sendKind
	Message Message
	Receipt string
	Err     *ServerErrorItem
}

// ServerErrorItem carries the context spec §7 requires when surfacing a
// ServerError as a STOMP ERROR frame.
type ServerErrorItem struct {
	Msg             string
	ReceiptID       string
	ContextType     string
	ContextBody     []byte
	ContextEncoding string
}

func SendMessage(m Message) SendItem            { return SendItem{kind: sendMessage, Message: m} }
func SendReceipt(id string) SendItem            { return SendItem{kind: sendReceipt, Receipt: id} }
func SendServerError(e *ServerErrorItem) SendItem { return SendItem{kind: sendServerError, Err: e} }
func SendDone() SendItem                        { return SendItem{kind: sendDone} }

// RecvItem is what the engines push onto the recv-queue for relay loops to
// consume: either a receipt id (client side) or a received Message (server
// side), or a terminal error observed from the peer.
type RecvItem struct {
	ReceiptID string
	Message   *InboundMessage
	Err       error
	done      bool
}

func RecvReceipt(id string) RecvItem  { return RecvItem{ReceiptID: id} }
func RecvMessage(m InboundMessage) RecvItem { return RecvItem{Message: &m} }
func RecvErr(err error) RecvItem      { return RecvItem{Err: err} }
func RecvDone() RecvItem              { return RecvItem{done: true} }

func (r RecvItem) IsDone() bool { return r.done }

// InboundMessage is a SEND frame received by the server side, already
// stripped of its receipt/content-type bookkeeping.
type InboundMessage struct {
	ID          string
	Type        string
	ContentType string
	Body        []byte
}

// HeartBeat is the negotiated (sx, sy) pair from a heart-beat header:
// sx = "I can send this often", sy = "I want to receive at least this
// often", both in milliseconds. 0 means "I do not support heartbeats".
type HeartBeat struct {
	SX time.Duration
	SY time.Duration
}
