package pool

import (
	"fmt"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// freeOr returns *given, or the free liquidity at the current spot when nil.
func (p *Pool) freeOr(given *fpmath.Decimal) (fpmath.Decimal, error) {
	if given != nil {
		return *given, nil
	}
	liq, err := p.Liquidity()
	if err != nil {
		return fpmath.Zero(), err
	}
	return liq.FreeLiquidity, nil
}

// LockQuote reserves quote as collateral for an option sold by the market.
func (p *Pool) LockQuote(c Call, amount fpmath.Decimal, freeLiquidity *fpmath.Decimal) error {
	return p.run("LockQuote", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		free, err := p.freeOr(freeLiquidity)
		if err != nil {
			return err
		}
		if amount.Gt(free) {
			return fmt.Errorf("%w: lock %s, free %s", ErrInsufficientFreeLiquidity, amount, free)
		}
		if err := p.st.Collateral.LockQuote(amount); err != nil {
			return err
		}
		p.emit(event.QuoteLocked{QuoteLocked: amount, LockedQuoteNow: p.st.Collateral.LockedQuote})
		return p.refreshCBs(c)
	})
}

// LockBase reserves base as collateral and buys any base the pool is short,
// failing if that purchase would not fit in free liquidity.
func (p *Pool) LockBase(c Call, amount fpmath.Decimal, freeLiquidity *fpmath.Decimal) error {
	return p.run("LockBase", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		free, err := p.freeOr(freeLiquidity)
		if err != nil {
			return err
		}
		if err := p.st.Collateral.LockBase(amount); err != nil {
			return err
		}
		p.emit(event.BaseLocked{BaseLocked: amount, LockedBaseNow: p.st.Collateral.LockedBase})
		if err := p.maybeExchangeBase(free, true); err != nil {
			return err
		}
		return p.refreshCBs(c)
	})
}

// FreeQuoteCollateralAndSendPremium releases quote collateral and pays the
// premium of an option bought back from a trader.
func (p *Pool) FreeQuoteCollateralAndSendPremium(c Call, amountQuoteFreed fpmath.Decimal, recipient common.Address, totalCost, reservedFee fpmath.Decimal) error {
	return p.run("FreeQuoteCollateralAndSendPremium", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		p.freeQuoteCollateral(amountQuoteFreed)
		return p.sendPremium(recipient, totalCost, reservedFee)
	})
}

// LiquidateBaseAndSendPremium releases base collateral, sells the freed base
// if the fee allows and pays the premium.
func (p *Pool) LiquidateBaseAndSendPremium(c Call, amountBase fpmath.Decimal, recipient common.Address, totalCost, reservedFee fpmath.Decimal) error {
	return p.run("LiquidateBaseAndSendPremium", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		p.freeBaseCollateral(amountBase)
		if err := p.maybeExchangeBase(fpmath.Zero(), false); err != nil {
			return err
		}
		return p.sendPremium(recipient, totalCost, reservedFee)
	})
}

// SendShortPremium pays the premium of a short opened against the pool.
func (p *Pool) SendShortPremium(c Call, recipient common.Address, amount fpmath.Decimal, freeLiquidity *fpmath.Decimal, reservedFee fpmath.Decimal) error {
	return p.run("SendShortPremium", func() error {
		if err := p.onlyOptionMarket(c); err != nil {
			return err
		}
		free, err := p.freeOr(freeLiquidity)
		if err != nil {
			return err
		}
		if amount.Gt(free) {
			return fmt.Errorf("%w: premium %s, free %s", ErrSendPremiumNotEnoughCollateral, amount, free)
		}
		return p.sendPremium(recipient, amount, reservedFee)
	})
}

// ExchangeBase rebalances base holdings toward locked base. Anyone may call it;
// a swap that costs too much is skipped rather than failing.
func (p *Pool) ExchangeBase(c Call) error {
	return p.run("ExchangeBase", func() error {
		return p.maybeExchangeBase(fpmath.Zero(), false)
	})
}

func (p *Pool) freeQuoteCollateral(amount fpmath.Decimal) {
	p.st.Collateral.FreeQuote(amount)
	p.emit(event.QuoteFreed{QuoteFreed: amount, LockedQuoteNow: p.st.Collateral.LockedQuote})
}

func (p *Pool) freeBaseCollateral(amount fpmath.Decimal) {
	p.st.Collateral.FreeBase(amount)
	p.emit(event.BaseFreed{BaseFreed: amount, LockedBaseNow: p.st.Collateral.LockedBase})
}

func (p *Pool) sendPremium(recipient common.Address, recipientPortion, marketPortion fpmath.Decimal) error {
	if err := p.sendQuote(recipient, recipientPortion); err != nil {
		return err
	}
	if err := p.sendQuote(p.roles.OptionMarket, marketPortion); err != nil {
		return err
	}
	p.emit(event.PremiumTransferred{
		Recipient:           recipient,
		RecipientPortion:    recipientPortion,
		OptionMarketPortion: marketPortion,
	})
	return nil
}

// maybeExchangeBase sells base held beyond locked base, or buys the missing
// base. A swap whose fee exceeds MaxFeePaid is skipped; when revertOnShort is
// set a purchase that cannot be paid from freeLiquidity fails instead.
func (p *Pool) maybeExchangeBase(freeLiquidity fpmath.Decimal, revertOnShort bool) error {
	params := p.params.Get()
	held := p.base.BalanceOf(p.addr)
	locked := p.st.Collateral.LockedBase

	switch {
	case held.Gt(locked):
		if p.oracle.BaseSwapFeeRate().Gt(params.MaxFeePaid) {
			return nil
		}
		excess := held.SubFloor(locked)
		quoteReceived, err := p.oracle.ExchangeFromExactBase(p.addr, excess)
		if err != nil {
			return fmt.Errorf("sell base: %w", err)
		}
		p.emit(event.BaseSold{AmountBase: excess, QuoteReceived: quoteReceived})

	case held.Lt(locked):
		needed := locked.SubFloor(held)
		if p.oracle.QuoteSwapFeeRate().Gt(params.MaxFeePaid) {
			if !revertOnShort {
				return nil
			}
			estimate, err := p.oracle.EstimateExchangeToExactBase(needed)
			if err != nil {
				return fmt.Errorf("estimate base purchase: %w", err)
			}
			if estimate.Gt(freeLiquidity) {
				return fmt.Errorf("%w: need %s quote, free %s",
					ErrInsufficientFreeLiquidityForBaseExchange, estimate, freeLiquidity)
			}
			return nil
		}

		limit := fpmath.Unbounded()
		if revertOnShort {
			limit = freeLiquidity
		}
		quoteSpent, baseReceived, err := p.oracle.ExchangeToExactBaseWithLimit(p.addr, needed, limit)
		if err != nil {
			if revertOnShort {
				return fmt.Errorf("%w: %v", ErrInsufficientFreeLiquidityForBaseExchange, err)
			}
			return fmt.Errorf("buy base: %w", err)
		}
		p.emit(event.BasePurchased{QuoteSpent: quoteSpent, BaseReceived: baseReceived})
	}
	return nil
}
