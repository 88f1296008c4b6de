package main

import (
	"context"

	"OptionLedger/internal/core"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/projection"

	"github.com/rs/zerolog"
)

// outputBridge converts core.CoreOutput into the persistence, projection and
// publisher formats, so core does not import the I/O packages.
//
// Persistence is forwarded blocking; projections and outbound events drop
// when their channel is full. Run closes all three outputs once both inputs
// are closed.
type outputBridge struct {
	persistIn    <-chan core.CoreOutput
	projectionIn <-chan core.CoreOutput

	persistOut    chan<- persistence.CoreOutput
	projectionOut chan<- projection.ProjectionOutput
	publishOut    chan<- ingestion.PublishableEvent

	log     zerolog.Logger
	metrics *observability.Metrics
}

func (b *outputBridge) Run(ctx context.Context) error {
	defer close(b.persistOut)
	defer close(b.projectionOut)
	defer close(b.publishOut)

	persistIn, projectionIn := b.persistIn, b.projectionIn
	for persistIn != nil || projectionIn != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			row, err := persistence.NewCoreOutput(out.Envelope, out.Batch)
			if err != nil {
				// The envelope's own JSON failed to encode; nothing downstream can use it.
				b.log.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("persist conversion failed")
				continue
			}
			select {
			case b.persistOut <- row:
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case b.publishOut <- ingestion.NewPublishableEvent(out.Envelope):
			default:
				if b.metrics != nil {
					b.metrics.PublishDrops.Inc()
				}
			}

		case out, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case b.projectionOut <- projection.FromCore(out):
			default:
				if b.metrics != nil {
					b.metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
	return nil
}
