package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrZeroAmount rejects a funding request that would move nothing.
var ErrZeroAmount = errors.New("amount must be positive")

// AdminIngest is the low-volume path for operators and the HTTP API: commands
// go straight to the engine instead of through NATS.
type AdminIngest struct {
	engine Submitter
	now    func() time.Time
}

func NewAdminIngest(engine Submitter) *AdminIngest {
	return &AdminIngest{engine: engine, now: time.Now}
}

// WithClock replaces the clock that stamps funding and queue commands.
func (a *AdminIngest) WithClock(now func() time.Time) *AdminIngest {
	a.now = now
	return a
}

// Inject decodes a named command payload and applies it.
func (a *AdminIngest) Inject(ctx context.Context, name string, payload []byte) (*event.EventEnvelope, error) {
	evt, err := event.DecodeNamed(name, payload)
	if err != nil {
		return nil, err
	}
	return a.engine.Submit(ctx, evt)
}

// InjectFunding credits holder with quote or base from outside the ledger.
func (a *AdminIngest) InjectFunding(
	ctx context.Context,
	caller, holder common.Address,
	asset string,
	amount fpmath.Decimal,
) (*event.EventEnvelope, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	evt := &event.AssetFunded{
		Meta:   a.meta(caller),
		Holder: holder,
		Asset:  asset,
		Amount: amount,
	}
	return a.engine.Submit(ctx, evt)
}

// InjectProcessQueues runs both queue processors once with the same limit.
func (a *AdminIngest) InjectProcessQueues(ctx context.Context, caller common.Address, limit int) error {
	if _, err := a.engine.Submit(ctx, &event.ProcessDepositQueue{Meta: a.meta(caller), Limit: limit}); err != nil {
		return fmt.Errorf("deposit queue: %w", err)
	}
	if _, err := a.engine.Submit(ctx, &event.ProcessWithdrawalQueue{Meta: a.meta(caller), Limit: limit}); err != nil {
		return fmt.Errorf("withdrawal queue: %w", err)
	}
	return nil
}

func (a *AdminIngest) meta(caller common.Address) event.Meta {
	return event.Meta{
		CommandID: uuid.New(),
		Caller:    caller,
		Timestamp: a.now().UTC(),
	}
}
