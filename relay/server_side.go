package relay

import (
	"context"

	"github.com/ledgerline/stomp-relay/broker"
	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/protocol"
	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/xlate"
)

// ServerSide is the inbound (peer→node) relay loop: a single publisher task
// that preprocesses each received STOMP message and publishes it to the
// broker, turning success into a RECEIPT and failure into a ServerError
// (spec §4.6).
type ServerSide struct {
	Broker     broker.Adapter
	Translator *xlate.Translator
	Engine     *protocol.ServerEngine

	// Metrics is optional; when set, translation failures are counted
	// against it. Nil is safe.
	Metrics *rstats.Registry
}

// Run drives the publisher task until ctx is cancelled, the engine closes,
// or an irrecoverable error occurs.
func (s *ServerSide) Run(ctx context.Context) error {
	for {
		item, err := s.Engine.Recv.Get(ctx)
		if err != nil {
			return err
		}
		if item.IsDone() {
			return nil
		}
		if item.Message == nil {
			continue
		}
		if err := s.publish(ctx, *item.Message); err != nil {
			return err
		}
	}
}

func (s *ServerSide) publish(ctx context.Context, msg protocol.InboundMessage) error {
	out, err := s.Translator.Preprocess(xlate.Message{
		ID:          msg.ID,
		Type:        msg.Type,
		ContentType: msg.ContentType,
		Body:        msg.Body,
	})
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.TranslateErrors.WithLabelValues("inbound", "processing").Inc()
		}
		if se, ok := err.(*cos.ServerError); ok {
			return s.Engine.Send.Put(ctx, protocol.SendServerError(&protocol.ServerErrorItem{
				Msg:             se.Msg,
				ReceiptID:       se.ReceiptID,
				ContextType:     se.ContextType,
				ContextBody:     se.ContextBody,
				ContextEncoding: se.ContextEncoding,
			}))
		}
		return s.Engine.Send.Put(ctx, protocol.SendServerError(&protocol.ServerErrorItem{Msg: err.Error()}))
	}

	headers := make(map[string]any, len(out.Headers))
	for k, v := range out.Headers {
		headers[k] = v
	}
	if err := s.Broker.Publish(ctx, out.RoutingKey, headers, out.ContentType, out.Body); err != nil {
		return s.Engine.Send.Put(ctx, protocol.SendServerError(&protocol.ServerErrorItem{Msg: err.Error(), ReceiptID: msg.ID}))
	}
	return s.Engine.Send.Put(ctx, protocol.SendReceipt(msg.ID))
}
