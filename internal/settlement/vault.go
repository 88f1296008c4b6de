package settlement

import (
	"errors"
	"fmt"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	ErrBoardNotSettled   = errors.New("board must be settled")
	ErrNoPositions       = errors.New("no positions to settle")
	ErrDuplicatePosition = errors.New("position listed more than once")
)

// Position is an option position as the registry reports it at settlement.
type Position struct {
	ID         uint64         `json:"id"`
	StrikeID   uint64         `json:"strike_id"`
	Owner      common.Address `json:"owner"`
	Type       OptionType     `json:"option_type"`
	Amount     fpmath.Decimal `json:"amount"`
	Collateral fpmath.Decimal `json:"collateral"`
}

// SettlementParams are fixed for a strike when its board expires.
type SettlementParams struct {
	StrikePrice fpmath.Decimal
	ExpiryPrice fpmath.Decimal
	// ProfitRatio is the pool's base profit per base-collateralized call.
	ProfitRatio fpmath.Decimal
}

type PositionRegistry interface {
	PositionsWithOwner(ids []uint64) ([]Position, error)
	// SettlePositions marks positions settled; it fails without side effects
	// if any of them cannot be settled.
	SettlePositions(ids []uint64) error
	SettlementParameters(strikeID uint64) (SettlementParams, error)
}

// LiquidityPool is the vault's view of the pool's settlement entry points.
type LiquidityPool interface {
	SendSettlementValue(c pool.Call, user common.Address, amountQuote fpmath.Decimal) error
	ReclaimInsolventQuote(c pool.Call, amountQuote fpmath.Decimal) error
	ReclaimInsolventBase(c pool.Call, amountBase fpmath.Decimal) error
}

type Deps struct {
	Pool      LiquidityPool
	Quote     pool.AssetToken
	Base      pool.AssetToken
	Positions PositionRegistry
	Events    *event.Recorder

	// Journal lists the participants rolled back with the vault; the pool and
	// the token ledger belong here.
	Journal []ledger.Journaled

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Vault holds short collateral, settles expired positions and reconciles
// shortfalls with the pool.
//
// Not thread-safe: every call comes from the single-writer core.
type Vault struct {
	addr         common.Address
	poolAddr     common.Address
	optionMarket common.Address

	st    *state.VaultState
	saved []*state.VaultState

	pool      LiquidityPool
	quote     pool.AssetToken
	base      pool.AssetToken
	positions PositionRegistry
	events    *event.Recorder
	journal   []ledger.Journaled

	entered bool

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewVault(addr, poolAddr, optionMarket common.Address, deps Deps) *Vault {
	if deps.Events == nil {
		deps.Events = event.NewRecorder()
	}
	v := &Vault{
		addr:         addr,
		poolAddr:     poolAddr,
		optionMarket: optionMarket,
		st:           &state.VaultState{},
		pool:         deps.Pool,
		quote:        deps.Quote,
		base:         deps.Base,
		positions:    deps.Positions,
		events:       deps.Events,
		log:          deps.Logger.With().Str("vault", addr.Hex()).Logger(),
		metrics:      deps.Metrics,
	}
	v.journal = append([]ledger.Journaled{v, deps.Events}, deps.Journal...)
	return v
}

func (v *Vault) Address() common.Address { return v.addr }

func (v *Vault) State() *state.VaultState { return v.st.Clone() }

func (v *Vault) Restore(st *state.VaultState) {
	v.st = st.Clone()
	v.saved = nil
}

func (v *Vault) Snapshot() int {
	v.saved = append(v.saved, v.st.Clone())
	return len(v.saved) - 1
}

func (v *Vault) RevertToSnapshot(id int) {
	if id < 0 || id >= len(v.saved) {
		panic(fmt.Sprintf("FATAL: invalid vault snapshot %d (have %d)", id, len(v.saved)))
	}
	v.st = v.saved[id]
	v.saved = v.saved[:id]
}

func (v *Vault) Commit(id int) {
	if id < len(v.saved) {
		v.saved = v.saved[:id]
	}
}

func (v *Vault) run(op string, fn func() error) error {
	if v.entered {
		return fmt.Errorf("%s: %w", op, pool.ErrReentrantCall)
	}
	v.entered = true
	defer func() { v.entered = false }()

	cp := ledger.Checkpoint(v.journal...)
	if err := fn(); err != nil {
		cp.Revert()
		v.log.Warn().Err(err).Str("op", op).Msg("operation rejected")
		if v.metrics != nil {
			v.metrics.PoolOpsRejected.WithLabelValues(op).Inc()
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	cp.Commit()
	return nil
}

func (v *Vault) onlyOptionMarket(c pool.Call) error {
	if c.Caller != v.optionMarket {
		return fmt.Errorf("%w: caller %s", pool.ErrOnlyOptionMarket, c.Caller.Hex())
	}
	return nil
}

// as returns a call into the pool made by the vault itself.
func (v *Vault) as(c pool.Call) pool.Call {
	return pool.Call{Caller: v.addr, Now: c.Now}
}

// BoardSettlement sends the pool its share of short collateral for an expired
// board. Whatever the vault cannot cover is recorded as excess the pool has
// already absorbed.
func (v *Vault) BoardSettlement(c pool.Call, amountBase, amountQuote fpmath.Decimal) (lpBaseInsolvency, lpQuoteInsolvency fpmath.Decimal, err error) {
	err = v.run("BoardSettlement", func() error {
		if err := v.onlyOptionMarket(c); err != nil {
			return err
		}
		baseSent, baseShort := v.clamp(v.base, amountBase)
		quoteSent, quoteShort := v.clamp(v.quote, amountQuote)
		v.st.Insolvency.RecordBaseShortfall(baseShort)
		v.st.Insolvency.RecordQuoteShortfall(quoteShort)

		if err := v.send(v.base, v.poolAddr, baseSent); err != nil {
			return err
		}
		if err := v.send(v.quote, v.poolAddr, quoteSent); err != nil {
			return err
		}
		lpBaseInsolvency, lpQuoteInsolvency = baseShort, quoteShort

		v.events.Emit(event.BoardSettlementCollateralSent{
			AmountBaseSent:     baseSent,
			AmountQuoteSent:    quoteSent,
			LPBaseInsolvency:   baseShort,
			LPQuoteInsolvency:  quoteShort,
			LPBaseExcessTotal:  v.st.Insolvency.ExcessBase,
			LPQuoteExcessTotal: v.st.Insolvency.ExcessQuote,
		})
		if !baseShort.IsZero() || !quoteShort.IsZero() {
			v.shortfallMetric(baseShort, quoteShort)
			v.log.Warn().
				Str("base_short", baseShort.String()).
				Str("quote_short", quoteShort.String()).
				Msg("board settlement collateral short")
		}
		return nil
	})
	if err != nil {
		return fpmath.Zero(), fpmath.Zero(), err
	}
	return lpBaseInsolvency, lpQuoteInsolvency, nil
}

// SendQuoteCollateral pays quote collateral out of the vault, clamped to its
// balance. The uncovered part is recorded as excess.
func (v *Vault) SendQuoteCollateral(c pool.Call, recipient common.Address, amount fpmath.Decimal) error {
	return v.run("SendQuoteCollateral", func() error {
		if err := v.onlyOptionMarket(c); err != nil {
			return err
		}
		return v.sendQuoteCollateral(recipient, amount)
	})
}

func (v *Vault) SendBaseCollateral(c pool.Call, recipient common.Address, amount fpmath.Decimal) error {
	return v.run("SendBaseCollateral", func() error {
		if err := v.onlyOptionMarket(c); err != nil {
			return err
		}
		return v.sendBaseCollateral(recipient, amount)
	})
}

func (v *Vault) sendQuoteCollateral(recipient common.Address, amount fpmath.Decimal) error {
	sent, short := v.clamp(v.quote, amount)
	if !short.IsZero() {
		v.st.Insolvency.RecordQuoteShortfall(short)
		v.shortfallMetric(fpmath.Zero(), short)
	}
	if err := v.send(v.quote, recipient, sent); err != nil {
		return err
	}
	v.events.Emit(event.QuoteSent{Receiver: recipient, Amount: sent})
	return nil
}

func (v *Vault) sendBaseCollateral(recipient common.Address, amount fpmath.Decimal) error {
	sent, short := v.clamp(v.base, amount)
	if !short.IsZero() {
		v.st.Insolvency.RecordBaseShortfall(short)
		v.shortfallMetric(short, fpmath.Zero())
	}
	if err := v.send(v.base, recipient, sent); err != nil {
		return err
	}
	v.events.Emit(event.BaseSent{Receiver: recipient, Amount: sent})
	return nil
}

// SettleOptions settles expired positions. Longs are paid from the pool's
// settlement reserve, shorts get back what their collateral has left over, and
// the batch's insolvency is netted against prior excess before the residual is
// reclaimed from the pool.
func (v *Vault) SettleOptions(c pool.Call, positionIDs []uint64) error {
	return v.run("SettleOptions", func() error {
		if len(positionIDs) == 0 {
			return ErrNoPositions
		}
		seen := make(map[uint64]struct{}, len(positionIDs))
		for _, id := range positionIDs {
			if _, ok := seen[id]; ok {
				return fmt.Errorf("%w: %d", ErrDuplicatePosition, id)
			}
			seen[id] = struct{}{}
		}
		positions, err := v.positions.PositionsWithOwner(positionIDs)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}

		var baseInsolvent, quoteInsolvent fpmath.Decimal
		for _, pos := range positions {
			params, err := v.positions.SettlementParameters(pos.StrikeID)
			if err != nil {
				return fmt.Errorf("position %d: %w", pos.ID, err)
			}
			if params.ExpiryPrice.IsZero() {
				return fmt.Errorf("position %d strike %d: %w", pos.ID, pos.StrikeID, ErrBoardNotSettled)
			}

			settled, insolvent, err := v.settlePosition(c, pos, params)
			if err != nil {
				return fmt.Errorf("position %d: %w", pos.ID, err)
			}
			if pos.Type.IsBaseCollateralized() {
				baseInsolvent, err = baseInsolvent.CheckedAdd(insolvent)
			} else {
				quoteInsolvent, err = quoteInsolvent.CheckedAdd(insolvent)
			}
			if err != nil {
				return fmt.Errorf("position %d: %w", pos.ID, err)
			}

			v.events.Emit(event.PositionSettled{
				PositionID:       pos.ID,
				Settler:          c.Caller,
				Owner:            pos.Owner,
				StrikePrice:      params.StrikePrice,
				PriceAtExpiry:    params.ExpiryPrice,
				OptionType:       pos.Type.String(),
				Amount:           pos.Amount,
				SettlementAmount: settled,
				InsolventAmount:  insolvent,
			})
			if v.metrics != nil {
				v.metrics.PositionsSettled.WithLabelValues(pos.Type.String()).Inc()
			}
		}

		if err := v.reclaimInsolvency(c, baseInsolvent, quoteInsolvent); err != nil {
			return err
		}
		if err := v.positions.SettlePositions(positionIDs); err != nil {
			return fmt.Errorf("mark settled: %w", err)
		}
		v.log.Info().Int("positions", len(positions)).
			Str("base_insolvent", baseInsolvent.String()).
			Str("quote_insolvent", quoteInsolvent.String()).
			Msg("positions settled")
		return nil
	})
}

func (v *Vault) settlePosition(c pool.Call, pos Position, params SettlementParams) (settled, insolvent fpmath.Decimal, err error) {
	if pos.Type.IsLong() {
		settled, err = LongPayout(pos.Type, params.StrikePrice, params.ExpiryPrice, pos.Amount)
		if err != nil {
			return fpmath.Zero(), fpmath.Zero(), err
		}
		if err := v.pool.SendSettlementValue(v.as(c), pos.Owner, settled); err != nil {
			return fpmath.Zero(), fpmath.Zero(), err
		}
		return settled, fpmath.Zero(), nil
	}

	profit, err := AMMProfit(pos.Type, params.StrikePrice, params.ExpiryPrice, params.ProfitRatio, pos.Amount)
	if err != nil {
		return fpmath.Zero(), fpmath.Zero(), err
	}
	settled, insolvent = ShortOutcome(pos.Collateral, profit)
	if pos.Type.IsBaseCollateralized() {
		err = v.sendBaseCollateral(pos.Owner, settled)
	} else {
		err = v.sendQuoteCollateral(pos.Owner, settled)
	}
	if err != nil {
		return fpmath.Zero(), fpmath.Zero(), err
	}
	return settled, insolvent, nil
}

// reclaimInsolvency nets each asset's insolvency against recorded excess and
// reclaims only the residual, so a shortfall is never reclaimed twice.
func (v *Vault) reclaimInsolvency(c pool.Call, baseInsolvent, quoteInsolvent fpmath.Decimal) error {
	if !baseInsolvent.IsZero() {
		residual := v.st.Insolvency.NetBase(baseInsolvent)
		v.netted("base", baseInsolvent, residual, v.st.Insolvency.ExcessBase)
		if !residual.IsZero() {
			if err := v.pool.ReclaimInsolventBase(v.as(c), residual); err != nil {
				return fmt.Errorf("reclaim base insolvency: %w", err)
			}
		}
	}
	if !quoteInsolvent.IsZero() {
		residual := v.st.Insolvency.NetQuote(quoteInsolvent)
		v.netted("quote", quoteInsolvent, residual, v.st.Insolvency.ExcessQuote)
		if !residual.IsZero() {
			if err := v.pool.ReclaimInsolventQuote(v.as(c), residual); err != nil {
				return fmt.Errorf("reclaim quote insolvency: %w", err)
			}
		}
	}
	return nil
}

func (v *Vault) netted(asset string, insolvent, reclaimed, excess fpmath.Decimal) {
	v.events.Emit(event.InsolvencyNetted{
		Asset:           asset,
		Insolvent:       insolvent,
		Reclaimed:       reclaimed,
		ExcessRemaining: excess,
	})
	if v.metrics != nil {
		v.metrics.InsolvencyNetted.WithLabelValues(asset).Add(insolvent.SubFloor(reclaimed).Float64())
		v.metrics.InsolvencyReclaimed.WithLabelValues(asset).Add(reclaimed.Float64())
	}
}

func (v *Vault) shortfallMetric(base, quote fpmath.Decimal) {
	if v.metrics == nil {
		return
	}
	if !base.IsZero() {
		v.metrics.SettlementShortfalls.WithLabelValues("base").Inc()
	}
	if !quote.IsZero() {
		v.metrics.SettlementShortfalls.WithLabelValues("quote").Inc()
	}
}

// clamp splits amount into what the vault holds and the shortfall.
func (v *Vault) clamp(token pool.AssetToken, amount fpmath.Decimal) (sent, short fpmath.Decimal) {
	held := token.BalanceOf(v.addr)
	if amount.Gt(held) {
		return held, amount.SubFloor(held)
	}
	return amount, fpmath.Zero()
}

func (v *Vault) send(token pool.AssetToken, to common.Address, amount fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if err := token.Transfer(v.addr, to, amount); err != nil {
		return fmt.Errorf("%w: %v", pool.ErrTransferFailed, err)
	}
	return nil
}
