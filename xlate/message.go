// Package xlate implements the MessageTranslator (spec §4.5): schema
// validation, subnet rewriting, routing-key derivation, and the
// STOMP-frame <-> broker-message conversion in both directions.
package xlate

// Message is a STOMP-side message: either about to be sent to a peer
// (the result of Transform) or just received from one (the input to
// Preprocess).
type Message struct {
	ID          string
	Type        string
	Body        []byte
	ContentType string
}

// BrokerMessage is a broker-side message: either about to be published
// (the result of Preprocess) or just consumed from a subscription (the
// input to Transform).
type BrokerMessage struct {
	ID          string
	Type        string
	Body        []byte
	ContentType string
	Headers     map[string]any
	RoutingKey  string
}
