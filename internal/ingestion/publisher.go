package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the slice of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied commands and the domain events they
// emitted to option.ledger.events.<command>.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan PublishableEvent
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// PublishableEvent is an applied command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64            `json:"sequence"`
	EventType      string           `json:"event_type"`
	IdempotencyKey string           `json:"idempotency_key"`
	Caller         string           `json:"caller"`
	Emitted        []EmittedMessage `json:"emitted"`
	StateHash      string           `json:"state_hash"`
	Timestamp      time.Time        `json:"timestamp"`
}

type EmittedMessage struct {
	Name string        `json:"name"`
	Data event.Emitted `json:"data"`
}

// NewPublishableEvent flattens an envelope for the wire.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	emitted := make([]EmittedMessage, 0, len(env.Emitted))
	for _, e := range env.Emitted {
		emitted = append(emitted, EmittedMessage{Name: e.Name(), Data: e})
	}
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.Hex(),
		Emitted:        emitted,
		StateHash:      fmt.Sprintf("%x", env.StateHash),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js Publisher, inputChan <-chan PublishableEvent, log zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log.With().Str("component", "publisher").Logger(),
		metrics:   metrics,
	}
}

// Run publishes until ctx is cancelled or the input closes. A failed publish
// is logged and skipped; the event log stays authoritative.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.log.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Sequence as message id lets JetStream drop republished duplicates.
	_, err = op.js.Publish(ctx, EventSubjectPrefix+evt.EventType, data,
		jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}
