package pool

import (
	"fmt"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// UpdateCBs re-evaluates the circuit breaker against current liquidity and
// market variance. Anyone may call it.
func (p *Pool) UpdateCBs(c Call) error {
	return p.run("UpdateCBs", func() error {
		return p.refreshCBs(c)
	})
}

// refreshCBs re-evaluates the breaker inside an operation that moved
// liquidity, so a breach takes effect without waiting for UpdateCBs.
func (p *Pool) refreshCBs(c Call) error {
	liq, err := p.Liquidity()
	if err != nil {
		return err
	}
	p.updateCBs(liq, c)
	return nil
}

func (p *Pool) updateCBs(liq Liquidity, c Call) {
	params := p.params.Get()
	trig, moved := p.st.CircuitBreaker.Update(state.CBSignals{
		FreeLiquidity:   liq.FreeLiquidity,
		NAV:             liq.NAV,
		UsedCollat:      liq.UsedCollatLiquidity,
		OptionValueDebt: liq.OptionValueDebt,
		IVVariance:      liq.IVVariance,
		SkewVariance:    liq.SkewVariance,
	}, params, c.Now)
	if !moved {
		if trig.Any() {
			p.log.Debug().Time("until", p.st.CircuitBreaker.Until).Msg("breach already covered by circuit breaker")
		}
		return
	}

	p.emit(event.CircuitBreakerUpdated{
		Expiry:               p.st.CircuitBreaker.Until,
		IVVarianceCrossed:    trig.IVVariance,
		SkewVarianceCrossed:  trig.SkewVariance,
		LiquidityCrossed:     trig.Liquidity,
		FreeLiquidityPercent: state.FreeLiquidityPercent(liq.FreeLiquidity, liq.NAV),
	})
	if p.metrics != nil {
		if trig.Liquidity {
			p.metrics.PoolCBTriggered.WithLabelValues("liquidity").Inc()
		}
		if trig.IVVariance {
			p.metrics.PoolCBTriggered.WithLabelValues("iv_variance").Inc()
		}
		if trig.SkewVariance {
			p.metrics.PoolCBTriggered.WithLabelValues("skew_variance").Inc()
		}
	}
	p.log.Warn().
		Time("until", p.st.CircuitBreaker.Until).
		Bool("liquidity", trig.Liquidity).
		Bool("iv_variance", trig.IVVariance).
		Bool("skew_variance", trig.SkewVariance).
		Msg("circuit breaker extended")
}

// BoardSettlement records the pool's side of an expired board: insolvency the
// market could not cover, collateral released and quote reserved for paying
// long holders. Queue processing pauses for BoardSettlementCBTimeout.
func (p *Pool) BoardSettlement(c Call, insolventSettlements, amountQuoteFreed, amountQuoteReserved, amountBaseFreed fpmath.Decimal) error {
	return p.run("BoardSettlement", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		if p.st.CircuitBreaker.BoardSettled(p.params.Get(), c.Now) {
			p.emit(event.BoardSettlementCircuitBreakerUpdated{Expiry: p.st.CircuitBreaker.Until})
		}

		insolvent, err := p.st.InsolventSettlementAmount.CheckedAdd(insolventSettlements)
		if err != nil {
			return err
		}
		outstanding, err := p.st.TotalOutstandingSettlements.CheckedAdd(amountQuoteReserved)
		if err != nil {
			return err
		}
		p.st.InsolventSettlementAmount = insolvent
		p.freeQuoteCollateral(amountQuoteFreed)
		p.freeBaseCollateral(amountBaseFreed)
		p.st.TotalOutstandingSettlements = outstanding

		p.emit(event.BoardSettlementRecorded{
			InsolventSettlementAmount:   p.st.InsolventSettlementAmount,
			AmountQuoteReserved:         amountQuoteReserved,
			TotalOutstandingSettlements: p.st.TotalOutstandingSettlements,
		})
		p.hedger.ResetInteractionDelay()
		return nil
	})
}

// SendSettlementValue pays a long holder from the outstanding settlement
// reserve. The amount is clamped to what is reserved.
func (p *Pool) SendSettlementValue(c Call, user common.Address, amountQuote fpmath.Decimal) error {
	return p.run("SendSettlementValue", func() error {
		if err := p.onlyShortCollateral(c); err != nil {
			return err
		}
		amount := fpmath.Min(amountQuote, p.st.TotalOutstandingSettlements)
		p.st.TotalOutstandingSettlements = p.st.TotalOutstandingSettlements.SubFloor(amount)
		if err := p.sendQuote(user, amount); err != nil {
			return err
		}
		p.emit(event.OutstandingSettlementSent{
			User:                        user,
			Amount:                      amount,
			TotalOutstandingSettlements: p.st.TotalOutstandingSettlements,
		})
		return nil
	})
}

// ReclaimInsolventQuote sends quote to the vault to cover a short whose
// collateral did not cover its payout. Excess base is sold first when free
// liquidity alone is not enough.
func (p *Pool) ReclaimInsolventQuote(c Call, amountQuote fpmath.Decimal) error {
	return p.run("ReclaimInsolventQuote", func() error {
		if err := p.onlyShortCollateral(c); err != nil {
			return err
		}
		liq, err := p.Liquidity()
		if err != nil {
			return err
		}
		if liq.FreeLiquidity.Lt(amountQuote) {
			if err := p.maybeExchangeBase(fpmath.Zero(), false); err != nil {
				return err
			}
			if liq, err = p.Liquidity(); err != nil {
				return err
			}
		}
		if amountQuote.Gt(liq.FreeLiquidity) {
			return fmt.Errorf("%w: reclaim %s, free %s", ErrInsufficientFreeLiquidity, amountQuote, liq.FreeLiquidity)
		}
		if err := p.sendQuote(p.roles.ShortCollateral, amountQuote); err != nil {
			return err
		}
		p.addInsolvency(amountQuote)
		return nil
	})
}

// ReclaimInsolventBase sends base to the vault. Base held beyond locked
// collateral is used first, the rest is bought within free liquidity.
func (p *Pool) ReclaimInsolventBase(c Call, amountBase fpmath.Decimal) error {
	return p.run("ReclaimInsolventBase", func() error {
		if err := p.onlyShortCollateral(c); err != nil {
			return err
		}
		liq, err := p.Liquidity()
		if err != nil {
			return err
		}

		held := p.base.BalanceOf(p.addr)
		excess := held.SubFloor(p.st.Collateral.LockedBase)
		fromExcess := fpmath.Min(excess, amountBase)
		quoteValue := fromExcess.Mul(liq.SpotPrice)

		if remaining := amountBase.SubFloor(fromExcess); !remaining.IsZero() {
			quoteSpent, baseReceived, err := p.oracle.ExchangeToExactBaseWithLimit(p.addr, remaining, liq.FreeLiquidity)
			if err != nil {
				return fmt.Errorf("%w: buy %s base: %v", ErrInsufficientFreeLiquidity, remaining, err)
			}
			p.emit(event.BasePurchased{QuoteSpent: quoteSpent, BaseReceived: baseReceived})
			quoteValue = quoteValue.Add(quoteSpent)
		}

		if err := p.base.Transfer(p.addr, p.roles.ShortCollateral, amountBase); err != nil {
			return fmt.Errorf("%w: base to vault: %v", ErrTransferFailed, err)
		}
		p.addInsolvency(quoteValue)
		return nil
	})
}

func (p *Pool) addInsolvency(amountQuote fpmath.Decimal) {
	p.st.InsolventSettlementAmount = p.st.InsolventSettlementAmount.Add(amountQuote)
	p.emit(event.InsolventSettlementAmountUpdated{
		AmountQuoteAdded:               amountQuote,
		TotalInsolventSettlementAmount: p.st.InsolventSettlementAmount,
	})
}

// TransferQuoteToHedge funds the hedger, capped at pending delta liquidity plus
// free liquidity. It returns the amount actually sent.
func (p *Pool) TransferQuoteToHedge(c Call, spot, amount fpmath.Decimal) (fpmath.Decimal, error) {
	var sent fpmath.Decimal
	err := p.run("TransferQuoteToHedge", func() error {
		if err := p.onlyPoolHedger(c); err != nil {
			return err
		}
		liq, err := p.computeLiquidity(spot)
		if err != nil {
			return err
		}
		sent = fpmath.Min(amount, liq.PendingDeltaLiquidity.Add(liq.FreeLiquidity))
		if err := p.sendQuote(p.roles.PoolHedger, sent); err != nil {
			return err
		}
		p.emit(event.QuoteTransferredToHedger{Amount: sent})
		return nil
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return sent, nil
}
