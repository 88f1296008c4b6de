package core

import (
	"context"
	"errors"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/market"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/settlement"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

var ErrEngineStopped = errors.New("engine stopped")

type request struct {
	evt    event.Event
	replay bool
	query  func(*View)
	reply  chan result
}

type result struct {
	env *event.EventEnvelope
	err error
}

// Engine owns a DeterministicCore and runs every command and read against it
// from a single goroutine.
type Engine struct {
	core *DeterministicCore
	reqs chan request
	done chan struct{}
	now  func() time.Time
}

func NewEngine(core *DeterministicCore, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Engine{
		core: core,
		reqs: make(chan request, queueSize),
		done: make(chan struct{}),
	}
}

// WithClock makes the engine stamp every submitted command with now, never
// earlier than the ledger clock. Without it the submitter's timestamp is kept.
// Replayed commands keep their logged timestamps either way.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run serves requests until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.reqs:
			e.serve(req)
		}
	}
}

func (e *Engine) serve(req request) {
	if req.query != nil {
		req.query(&View{core: e.core})
		req.reply <- result{}
		return
	}

	var res result
	if req.replay {
		res.env, res.err = e.core.ReplayEvent(req.evt)
	} else {
		e.stamp(req.evt)
		res.env, res.err = e.core.ProcessEvent(req.evt)
	}
	req.reply <- res
}

func (e *Engine) stamp(evt event.Event) {
	if e.now == nil {
		return
	}
	s, ok := evt.(event.Stamper)
	if !ok {
		return
	}
	now := e.now()
	if now.Before(e.core.clock) {
		now = e.core.clock
	}
	s.Stamp(now)
}

func (e *Engine) do(ctx context.Context, req request) (result, error) {
	req.reply = make(chan result, 1)
	select {
	case e.reqs <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-e.done:
		return result{}, ErrEngineStopped
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-e.done:
		return result{}, ErrEngineStopped
	}
}

// Submit applies one command and waits for the outcome. A duplicate command
// returns a nil envelope and no error. With a clock set, evt is restamped.
func (e *Engine) Submit(ctx context.Context, evt event.Event) (*event.EventEnvelope, error) {
	res, err := e.do(ctx, request{evt: evt})
	if err != nil {
		return nil, err
	}
	return res.env, res.err
}

// Replay applies a command read back from the event log.
func (e *Engine) Replay(ctx context.Context, evt event.Event) (*event.EventEnvelope, error) {
	res, err := e.do(ctx, request{evt: evt, replay: true})
	if err != nil {
		return nil, err
	}
	return res.env, res.err
}

// Query runs fn on the engine goroutine between commands. fn must not retain
// the view.
func (e *Engine) Query(ctx context.Context, fn func(*View)) error {
	_, err := e.do(ctx, request{query: fn})
	return err
}

// View is a read-only window on the core, valid only inside Query.
type View struct {
	core *DeterministicCore
}

func (v *View) Sequence() int64     { return v.core.GetSequence() }
func (v *View) StateHash() [32]byte { return v.core.GetStateHash() }

// Liquidity fails with market.ErrNoSpotPrice until a feed reading arrives.
func (v *View) Liquidity() (pool.Liquidity, error) {
	return v.core.pool.Liquidity()
}

func (v *View) TokenPriceWithCheck() (pool.TokenPriceCheck, error) {
	return v.core.pool.TokenPriceWithCheck()
}

func (v *View) Pool() *state.PoolState               { return v.core.pool.State() }
func (v *View) Vault() *state.VaultState             { return v.core.vault.State() }
func (v *View) Params() state.PoolParameters         { return v.core.params.Get() }
func (v *View) Feed() market.FeedState               { return v.core.feed.State() }
func (v *View) OpenPositions() []settlement.Position { return v.core.book.OpenPositions() }

// ShortCollateral is the collateral the vault holds for open shorts.
func (v *View) ShortCollateral() (base, quote fpmath.Decimal) {
	return v.core.book.CollateralHeld()
}

func (v *View) Balance(holder common.Address, asset ledger.AssetID) fpmath.Decimal {
	return v.core.bank.Token(asset).BalanceOf(holder)
}

func (v *View) TotalSupply(asset ledger.AssetID) fpmath.Decimal {
	return v.core.bank.Token(asset).TotalSupply()
}

// Snapshot captures the full core state for persistence.
func (v *View) Snapshot() *SnapshotState {
	return v.core.CreateSnapshotState()
}
