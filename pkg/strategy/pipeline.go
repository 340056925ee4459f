package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/corvid-agent/corvid/pkg/codec"
)

// pipeline gates each decoded message through backpressure admission,
// records it in the transcript, and feeds the gateway tap before handing
// it to the consumer.
type pipeline struct {
	deps   Deps
	logger zerolog.Logger
}

// deliver pushes one message through the pipeline. It returns false when
// the message was refused admission and must not be delivered.
func (p *pipeline) deliver(ctx context.Context, streamID string, msg codec.Message, onMessage OnMessage) bool {
	if p.deps.Controller != nil {
		if !p.deps.Controller.RequestPermit(ctx) {
			p.logger.Warn().
				Str("stream_id", streamID).
				Str("msg_id", msg.ID).
				Msg("Message refused admission, dropping")
			return false
		}
		defer p.deps.Controller.ReleasePermit()
	}

	if p.deps.Transcript != nil {
		if err := p.deps.Transcript.Append(streamID, msg); err != nil {
			p.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Transcript append failed")
		}
	}

	if p.deps.Broadcaster != nil {
		p.deps.Broadcaster.Broadcast("message", streamID, msg)
	}

	if onMessage != nil {
		onMessage(msg)
	}
	return true
}

// deliverAll pushes a full sequence through the pipeline, returning the
// admitted messages in order.
func (p *pipeline) deliverAll(ctx context.Context, streamID string, msgs []codec.Message) []codec.Message {
	delivered := make([]codec.Message, 0, len(msgs))
	for _, msg := range msgs {
		if p.deliver(ctx, streamID, msg, nil) {
			delivered = append(delivered, msg)
		}
	}
	return delivered
}

// announce feeds stream lifecycle events to the gateway tap.
func (p *pipeline) announce(event, streamID string, data any) {
	if p.deps.Broadcaster != nil {
		p.deps.Broadcaster.Broadcast(event, streamID, data)
	}
}
