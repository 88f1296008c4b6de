package pool

import (
	"errors"
	"fmt"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// MaxQueueBatch caps the tickets processed by one queue call.
const MaxQueueBatch = 1000

// Roles are the addresses allowed to call the restricted entry points.
type Roles struct {
	Owner           common.Address `json:"owner"`
	OptionMarket    common.Address `json:"option_market"`
	ShortCollateral common.Address `json:"short_collateral"`
	PoolHedger      common.Address `json:"pool_hedger"`
}

// Deps are the collaborators a pool is constructed with.
type Deps struct {
	Quote     AssetToken
	Base      AssetToken
	Shares    ShareToken
	Oracle    PriceOracle
	Valuation OptionValuation
	Hedger    HedgerStrategy
	Events    *event.Recorder

	// Journal lists every external participant that must roll back together
	// with the pool when an operation fails (token ledger, exchange reserve).
	Journal []ledger.Journaled

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Pool is the LP liquidity pool: it holds quote and base, issues shares,
// locks collateral for the option market and absorbs settlement insolvency.
//
// Not thread-safe: every call comes from the single-writer core.
type Pool struct {
	addr   common.Address
	roles  Roles
	params *state.ParamsManager

	st    *state.PoolState
	saved []*state.PoolState

	quote     AssetToken
	base      AssetToken
	shares    ShareToken
	oracle    PriceOracle
	valuation OptionValuation
	hedger    HedgerStrategy
	events    *event.Recorder
	journal   []ledger.Journaled

	entered bool

	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(addr common.Address, roles Roles, params *state.ParamsManager, deps Deps) *Pool {
	if deps.Events == nil {
		deps.Events = event.NewRecorder()
	}
	p := &Pool{
		addr:      addr,
		roles:     roles,
		params:    params,
		st:        state.NewPoolState(),
		quote:     deps.Quote,
		base:      deps.Base,
		shares:    deps.Shares,
		oracle:    deps.Oracle,
		valuation: deps.Valuation,
		hedger:    deps.Hedger,
		events:    deps.Events,
		log:       deps.Logger.With().Str("pool", addr.Hex()).Logger(),
		metrics:   deps.Metrics,
	}
	p.journal = append([]ledger.Journaled{p, deps.Events}, deps.Journal...)
	return p
}

func (p *Pool) Address() common.Address { return p.addr }
func (p *Pool) Roles() Roles             { return p.roles }

func (p *Pool) Params() state.PoolParameters { return p.params.Get() }

// State returns a deep copy of the pool's bookkeeping.
func (p *Pool) State() *state.PoolState { return p.st.Clone() }

// Restore replaces the pool's bookkeeping, used when loading a snapshot.
func (p *Pool) Restore(st *state.PoolState) {
	p.st = st.Clone()
	p.saved = nil
}

// Snapshot implements ledger.Journaled.
func (p *Pool) Snapshot() int {
	p.saved = append(p.saved, p.st.Clone())
	return len(p.saved) - 1
}

func (p *Pool) RevertToSnapshot(id int) {
	if id < 0 || id >= len(p.saved) {
		panic(fmt.Sprintf("FATAL: invalid pool snapshot %d (have %d)", id, len(p.saved)))
	}
	p.st = p.saved[id]
	p.saved = p.saved[:id]
}

func (p *Pool) Commit(id int) {
	if id < len(p.saved) {
		p.saved = p.saved[:id]
	}
}

// run executes fn as one all-or-nothing operation: on error the pool state,
// every journaled participant and the emitted events are rolled back.
func (p *Pool) run(op string, fn func() error) error {
	if p.entered {
		return fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}
	p.entered = true
	defer func() { p.entered = false }()

	cp := ledger.Checkpoint(p.journal...)
	if err := fn(); err != nil {
		cp.Revert()
		p.rejected(op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	cp.Commit()
	p.observe()
	return nil
}

func (p *Pool) rejected(op string, err error) {
	var inv *AccountingInvariantError
	if errors.As(err, &inv) {
		p.log.Error().Err(err).Str("op", op).
			Str("assets", inv.Assets.String()).
			Str("required", inv.Required.String()).
			Msg("accounting invariant violated")
		if p.metrics != nil {
			p.metrics.PoolInvariantViolations.WithLabelValues(inv.Kind).Inc()
		}
	} else {
		p.log.Warn().Err(err).Str("op", op).Msg("operation rejected")
	}
	if p.metrics != nil {
		p.metrics.PoolOpsRejected.WithLabelValues(op).Inc()
	}
}

// observe refreshes the pool gauges after a committed operation.
func (p *Pool) observe() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolQueueDepth.WithLabelValues("deposit").Set(float64(len(p.st.Deposits.Pending())))
	p.metrics.PoolQueueDepth.WithLabelValues("withdrawal").Set(float64(len(p.st.Withdrawals.Pending())))
	p.metrics.PoolCBUntil.Set(float64(p.st.CircuitBreaker.Until.Unix()))

	liq, err := p.Liquidity()
	if err != nil {
		return
	}
	p.metrics.PoolNAV.Set(liq.NAV.Float64())
	p.metrics.PoolTokenPrice.Set(liq.TokenPrice.Float64())
	p.metrics.PoolFreeLiquidity.Set(liq.FreeLiquidity.Float64())
	p.metrics.PoolUsedCollateral.Set(liq.UsedCollatLiquidity.Float64())
}

func (p *Pool) emit(e event.Emitted) {
	p.events.Emit(e)
}

func (p *Pool) onlyOptionMarket(c Call) error {
	if c.Caller != p.roles.OptionMarket {
		return fmt.Errorf("%w: caller %s", ErrOnlyOptionMarket, c.Caller.Hex())
	}
	return nil
}

func (p *Pool) onlyShortCollateral(c Call) error {
	if c.Caller != p.roles.ShortCollateral {
		return fmt.Errorf("%w: caller %s", ErrOnlyShortCollateral, c.Caller.Hex())
	}
	return nil
}

func (p *Pool) onlyPoolHedger(c Call) error {
	if c.Caller != p.roles.PoolHedger {
		return fmt.Errorf("%w: caller %s", ErrOnlyPoolHedger, c.Caller.Hex())
	}
	return nil
}

// SetPoolParameters installs a validated parameter set. Owner only.
func (p *Pool) SetPoolParameters(c Call, params state.PoolParameters) error {
	return p.run("SetPoolParameters", func() error {
		if c.Caller != p.roles.Owner {
			return fmt.Errorf("%w: caller %s", ErrOnlyOwner, c.Caller.Hex())
		}
		if err := p.params.Update(params); err != nil {
			return err
		}
		p.emit(event.PoolParamsUpdated{Guardian: params.GuardianAddress})
		return nil
	})
}
