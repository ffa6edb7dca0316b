// Package broker implements the BrokerAdapter capability (spec §6): a thin
// interface over the message broker plus a concrete AMQP 0.9.1
// implementation. Adapted from the teacher's own capability-interface style
// (core.Backend in core/backend.go: one interface, several concrete
// backends selected at startup).
package broker

import "context"

// DeliveryTag identifies one unacknowledged delivery within a single
// subscription; it is opaque to callers beyond passing it back to Ack/Nack.
type DeliveryTag uint64

// Delivery pairs a consumed message with the tag needed to ack/nack it.
type Delivery struct {
	ID          string
	Type        string
	ContentType string
	Body        []byte
	Tag         DeliveryTag
}

// Adapter is the capability spec §6 names: subscribe, ack, nack, publish.
// AMQPAdapter is the only concrete implementation in this tree, but relay
// loops depend on this interface so a test fake can stand in without a
// live broker.
type Adapter interface {
	// Subscribe begins consuming queueName; the returned channel closes
	// when ctx is cancelled or the subscription is lost.
	Subscribe(ctx context.Context, queueName string) (<-chan Delivery, error)
	Ack(tag DeliveryTag) error
	Nack(tag DeliveryTag, requeue bool) error
	// Publish blocks until the broker has confirmed the message (spec §6:
	// "a future completing on broker ack"), expressed here as a blocking
	// call rather than a separate future type per Go convention.
	Publish(ctx context.Context, routingKey string, headers map[string]any, contentType string, body []byte) error
}
