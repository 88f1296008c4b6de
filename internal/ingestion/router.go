package ingestion

import (
	"context"
	"errors"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter applies a command; core.Engine satisfies it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*event.EventEnvelope, error)
}

// Router decodes inbound messages and submits them to the engine one at a
// time, in arrival order.
//
// Ack policy: a malformed message is terminated, a command the ledger rejected
// is acked (redelivery would be rejected again), and a message that never
// reached the ledger is nakked for redelivery.
type Router struct {
	engine    Submitter
	inputChan <-chan RawEvent
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewRouter(engine Submitter, inputChan <-chan RawEvent, log zerolog.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		engine:    engine,
		inputChan: inputChan,
		log:       log.With().Str("component", "router").Logger(),
		metrics:   metrics,
	}
}

// Run routes messages until ctx is cancelled or the input closes.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-r.inputChan:
			if !ok {
				return nil
			}
			r.Handle(ctx, raw)
		}
	}
}

// Handle routes a single message and settles it.
func (r *Router) Handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
		settle(raw.TermFunc)
		return
	}

	env, err := r.engine.Submit(ctx, evt)
	switch {
	case err == nil:
		if r.metrics != nil && env != nil {
			r.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(raw.ReceivedAt).Seconds())
		}
		settle(raw.AckFunc)
	case errors.Is(err, core.ErrEngineStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		settle(raw.NakFunc)
	default:
		r.log.Info().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("command_id", evt.IdempotencyKey()).
			Msg("command rejected")
		settle(raw.AckFunc)
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
