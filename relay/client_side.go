// Package relay wires a protocol.ClientEngine or protocol.ServerEngine to a
// broker.Adapter through an xlate.Translator, implementing the two
// RelayLoops of spec §4.6 as tasks sharing the engine's queues: ClientSide
// joins its consumer and ack tasks with an errgroup, ServerSide runs its
// single publisher task directly in Run.
package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/stomp-relay/broker"
	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/cmn/nlog"
	"github.com/ledgerline/stomp-relay/protocol"
	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/xlate"
)

// ClientSide is the outbound (node→peer) relay loop pair: a consumer task
// that transforms broker messages into STOMP sends, and an ack task that
// acks/nacks the broker once the peer confirms receipt (spec §4.6).
type ClientSide struct {
	Broker     broker.Adapter
	Queue      string
	Translator *xlate.Translator
	Engine     *protocol.ClientEngine

	// MaxInFlight bounds the id -> delivery-tag map the ack task drains;
	// once full, the consumer task stops polling the broker until acks
	// catch up (spec §4.6's back-pressure clause).
	MaxInFlight int

	// Metrics is optional; when set, translation failures are counted
	// against it. Nil is safe.
	Metrics *rstats.Registry

	mu       sync.Mutex
	inFlight map[string]broker.DeliveryTag
}

// Run spawns the consumer and ack tasks under group and blocks until both
// exit (on ctx cancellation, a broker/engine failure, or graceful Done).
func (c *ClientSide) Run(ctx context.Context) error {
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 1000
	}
	c.inFlight = make(map[string]broker.DeliveryTag)

	deliveries, err := c.Broker.Subscribe(ctx, c.Queue)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.consumerLoop(gctx, deliveries) })
	group.Go(func() error { return c.ackLoop(gctx) })
	return group.Wait()
}

func (c *ClientSide) noteTranslateError(kind string) {
	if c.Metrics != nil {
		c.Metrics.TranslateErrors.WithLabelValues("outbound", kind).Inc()
	}
}

func (c *ClientSide) inFlightLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

func (c *ClientSide) trackInFlight(id string, tag broker.DeliveryTag) {
	c.mu.Lock()
	c.inFlight[id] = tag
	c.mu.Unlock()
}

func (c *ClientSide) takeInFlight(id string) (broker.DeliveryTag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.inFlight[id]
	if ok {
		delete(c.inFlight, id)
	}
	return tag, ok
}

// consumerLoop implements spec §4.6's ClientSide consumer task.
func (c *ClientSide) consumerLoop(ctx context.Context, deliveries <-chan broker.Delivery) error {
	for {
		if c.inFlightLen() >= c.MaxInFlight {
			if err := waitForRoom(ctx, c); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return c.Engine.Send.Put(ctx, protocol.SendDone())
			}

			msg := xlate.BrokerMessage{ID: d.ID, Type: d.Type, ContentType: d.ContentType, Body: d.Body}
			out, err := c.Translator.Transform(msg)
			if cos.IsProcessingError(err) {
				c.noteTranslateError("processing")
				nlog.Warningf("relay: dropping message %s: %v", d.ID, err)
				if nerr := c.Broker.Nack(d.Tag, false); nerr != nil {
					nlog.Errorf("relay: nack failed for %s: %v", d.ID, nerr)
				}
				continue
			}
			if err != nil {
				c.noteTranslateError("fatal")
				_ = c.Engine.Send.Put(ctx, protocol.SendServerError(&protocol.ServerErrorItem{Msg: err.Error()}))
				return err
			}

			c.trackInFlight(out.ID, d.Tag)
			if err := c.Engine.Send.Put(ctx, protocol.SendMessage(protocol.Message{
				ID:          out.ID,
				ContentType: out.ContentType,
				Body:        out.Body,
			})); err != nil {
				return err
			}
		}
	}
}

// waitForRoom blocks until the in-flight map has drained below MaxInFlight
// or ctx is done. It polls the ack task's progress rather than sharing a
// condition variable, since this is a coarse, infrequent back-pressure
// check (spec §4.6: "back-pressure signalled by not polling broker").
func waitForRoom(ctx context.Context, c *ClientSide) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.inFlightLen() >= c.MaxInFlight {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ackLoop implements spec §4.6's ClientSide ack task: drain receipt ids
// from the recv-queue and ack the matching in-flight broker delivery.
func (c *ClientSide) ackLoop(ctx context.Context) error {
	for {
		item, err := c.Engine.Recv.Get(ctx)
		if err != nil {
			return err
		}
		if item.IsDone() {
			return nil
		}
		if item.Err != nil {
			return item.Err
		}
		tag, ok := c.takeInFlight(item.ReceiptID)
		if !ok {
			nlog.Warningf("relay: receipt for unknown message id %s", item.ReceiptID)
			continue
		}
		if err := c.Broker.Ack(tag); err != nil {
			nlog.Errorf("relay: ack failed for %s: %v", item.ReceiptID, err)
		}
	}
}
