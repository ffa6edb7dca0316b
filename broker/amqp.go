package broker

import (
	"context"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// AMQPAdapter implements Adapter over an AMQP 0.9.1 connection
// (github.com/rabbitmq/amqp091-go), the actively-maintained fork of the
// streadway/amqp client. One AMQPAdapter owns one channel and publishes in
// confirm mode so Publish can block until the broker acknowledges.
type AMQPAdapter struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	confirm chan amqp.Confirmation

	exchange string

	mu      sync.Mutex
	pending map[DeliveryTag]amqp.Delivery
	nextTag atomic.Uint64
}

// DialAMQP connects to url and opens one confirm-mode channel publishing to
// exchange (empty string selects the default exchange, routing by queue
// name equal to the routing key, which is how spec §6's Publish contract is
// realized over AMQP).
func DialAMQP(url, exchange string) (*AMQPAdapter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, cos.NewDatabaseError(err, "amqp dial failed")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, cos.NewDatabaseError(err, "amqp channel open failed")
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, cos.NewDatabaseError(err, "amqp confirm mode failed")
	}
	a := &AMQPAdapter{
		conn:     conn,
		ch:       ch,
		confirm:  ch.NotifyPublish(make(chan amqp.Confirmation, 64)),
		exchange: exchange,
		pending:  make(map[DeliveryTag]amqp.Delivery),
	}
	return a, nil
}

func (a *AMQPAdapter) Close() error {
	a.ch.Close()
	return a.conn.Close()
}

func (a *AMQPAdapter) Subscribe(ctx context.Context, queueName string) (<-chan Delivery, error) {
	deliveries, err := a.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, cos.NewDatabaseError(err, "amqp consume failed for queue %s", queueName)
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				tag := a.storePending(d)
				msgType, _ := d.Headers["message-type"].(string)
				select {
				case out <- Delivery{ID: d.MessageId, Type: msgType, ContentType: d.ContentType, Body: d.Body, Tag: tag}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *AMQPAdapter) storePending(d amqp.Delivery) DeliveryTag {
	tag := DeliveryTag(a.nextTag.Add(1))
	a.mu.Lock()
	a.pending[tag] = d
	a.mu.Unlock()
	return tag
}

func (a *AMQPAdapter) takePending(tag DeliveryTag) (amqp.Delivery, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.pending[tag]
	if ok {
		delete(a.pending, tag)
	}
	return d, ok
}

func (a *AMQPAdapter) Ack(tag DeliveryTag) error {
	d, ok := a.takePending(tag)
	if !ok {
		return cos.NewProcessingError("ack: unknown delivery tag %d", tag)
	}
	return d.Ack(false)
}

func (a *AMQPAdapter) Nack(tag DeliveryTag, requeue bool) error {
	d, ok := a.takePending(tag)
	if !ok {
		return cos.NewProcessingError("nack: unknown delivery tag %d", tag)
	}
	return d.Nack(false, requeue)
}

func (a *AMQPAdapter) Publish(ctx context.Context, routingKey string, headers map[string]any, contentType string, body []byte) error {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	if err := a.ch.PublishWithContext(ctx, a.exchange, routingKey, false, false, amqp.Publishing{
		Headers:     table,
		ContentType: contentType,
		Body:        body,
	}); err != nil {
		return cos.NewProcessingError("publish failed: %v", err)
	}
	select {
	case confirm := <-a.confirm:
		if !confirm.Ack {
			return cos.NewProcessingError("broker rejected publish (delivery tag %d)", confirm.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
