package pool

import (
	"fmt"
	"time"

	fpmath "OptionLedger/internal/math"
)

// Liquidity is a point-in-time breakdown of the pool's quote. It is derived
// from balances and market inputs on demand and never stored.
type Liquidity struct {
	FreeLiquidity         fpmath.Decimal `json:"free_liquidity"`
	BurnableLiquidity     fpmath.Decimal `json:"burnable_liquidity"`
	ReservedTokenValue    fpmath.Decimal `json:"reserved_token_value"`
	UsedCollatLiquidity   fpmath.Decimal `json:"used_collat_liquidity"`
	PendingDeltaLiquidity fpmath.Decimal `json:"pending_delta_liquidity"`
	UsedDeltaLiquidity    fpmath.Decimal `json:"used_delta_liquidity"`
	NAV                   fpmath.Decimal `json:"nav"`

	TokenPrice      fpmath.Decimal       `json:"token_price"`
	SpotPrice       fpmath.Decimal       `json:"spot_price"`
	OptionValueDebt fpmath.SignedDecimal `json:"option_value_debt"`
	IVVariance      fpmath.Decimal       `json:"iv_variance"`
	SkewVariance    fpmath.Decimal       `json:"skew_variance"`
}

// TokenPriceCheck is the share price together with whether it can be trusted.
type TokenPriceCheck struct {
	TokenPrice fpmath.Decimal `json:"token_price"`
	IsStale    bool           `json:"is_stale"`
	CBUntil    time.Time      `json:"circuit_breaker_until"`
}

func (p *Pool) spotPrice() (fpmath.Decimal, error) {
	spot, err := p.oracle.SpotPrice()
	if err != nil {
		return fpmath.Zero(), fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return spot, nil
}

// Liquidity computes the breakdown at the current spot price.
func (p *Pool) Liquidity() (Liquidity, error) {
	spot, err := p.spotPrice()
	if err != nil {
		return Liquidity{}, err
	}
	return p.computeLiquidity(spot)
}

// TokenPriceWithCheck returns the share price, cache staleness and breaker expiry.
func (p *Pool) TokenPriceWithCheck() (TokenPriceCheck, error) {
	spot, err := p.spotPrice()
	if err != nil {
		return TokenPriceCheck{}, err
	}
	price, err := p.tokenPrice(spot)
	if err != nil {
		return TokenPriceCheck{}, err
	}
	return TokenPriceCheck{
		TokenPrice: price,
		IsStale:    p.valuation.IsGlobalCacheStale(spot),
		CBUntil:    p.st.CircuitBreaker.Until,
	}, nil
}

// totalShares counts live shares plus shares burned into the withdrawal queue
// that have not been paid out yet.
func (p *Pool) totalShares() fpmath.Decimal {
	return p.shares.TotalSupply().Add(p.st.Withdrawals.TotalQueued)
}

func (p *Pool) tokenPrice(spot fpmath.Decimal) (fpmath.Decimal, error) {
	_, used := p.hedger.HedgingLiquidity(spot)
	nav, err := p.nav(spot, used)
	if err != nil {
		return fpmath.Zero(), err
	}
	return priceOf(nav, p.totalShares())
}

func priceOf(nav, totalShares fpmath.Decimal) (fpmath.Decimal, error) {
	if totalShares.IsZero() {
		return fpmath.One(), nil
	}
	return nav.CheckedDiv(totalShares)
}

// nav = quote + base*spot + usedDelta - settlements - queuedDeposits - optionDebt
func (p *Pool) nav(spot, usedDelta fpmath.Decimal) (fpmath.Decimal, error) {
	gross, err := sum(p.quote.BalanceOf(p.addr), usedDelta)
	if err != nil {
		return fpmath.Zero(), err
	}
	baseValue, err := p.base.BalanceOf(p.addr).CheckedMul(spot)
	if err != nil {
		return fpmath.Zero(), err
	}
	if gross, err = gross.CheckedAdd(baseValue); err != nil {
		return fpmath.Zero(), err
	}
	reserved := p.st.TotalOutstandingSettlements.Add(p.st.Deposits.TotalQueued)
	assets, err := gross.CheckedSub(reserved)
	if err != nil {
		return fpmath.Zero(), &AccountingInvariantError{
			Kind:     InvariantReservedExceedsAssets,
			Assets:   gross,
			Required: reserved,
		}
	}

	debt := p.valuation.GlobalOptionNetValue()
	if debt.Neg {
		return assets.CheckedAdd(debt.Abs)
	}
	nav, err := assets.CheckedSub(debt.Abs)
	if err != nil {
		return fpmath.Zero(), &AccountingInvariantError{
			Kind:     InvariantDebtExceedsAssets,
			Assets:   assets,
			Required: debt.Abs,
		}
	}
	return nav, nil
}

func sum(xs ...fpmath.Decimal) (fpmath.Decimal, error) {
	total := fpmath.Zero()
	for _, x := range xs {
		var err error
		if total, err = total.CheckedAdd(x); err != nil {
			return fpmath.Zero(), err
		}
	}
	return total, nil
}

func (p *Pool) computeLiquidity(spot fpmath.Decimal) (Liquidity, error) {
	pendingDelta, usedDelta := p.hedger.HedgingLiquidity(spot)

	nav, err := p.nav(spot, usedDelta)
	if err != nil {
		return Liquidity{}, err
	}
	price, err := priceOf(nav, p.totalShares())
	if err != nil {
		return Liquidity{}, err
	}

	quote := p.quote.BalanceOf(p.addr)
	base := p.base.BalanceOf(p.addr)
	locked := p.st.Collateral

	baseCollat, err := fpmath.Max(base, locked.LockedBase).CheckedMul(spot)
	if err != nil {
		return Liquidity{}, err
	}
	usedCollat, err := locked.LockedQuote.CheckedAdd(baseCollat)
	if err != nil {
		return Liquidity{}, err
	}

	// Locked base the pool does not hold yet has to be bought with quote.
	pendingBaseValue, err := locked.LockedBase.SubFloor(base).CheckedMul(spot)
	if err != nil {
		return Liquidity{}, err
	}

	usedQuote, err := sum(p.st.TotalOutstandingSettlements, p.st.Deposits.TotalQueued,
		locked.LockedQuote, pendingBaseValue)
	if err != nil {
		return Liquidity{}, err
	}
	available := quote.SubFloor(usedQuote)

	pendingDeltaLiq := fpmath.Min(available, pendingDelta)
	reserved, err := price.CheckedMul(p.st.Withdrawals.TotalQueued)
	if err != nil {
		return Liquidity{}, err
	}

	return Liquidity{
		FreeLiquidity:         available.SubFloor(pendingDelta).SubFloor(reserved),
		BurnableLiquidity:     available.SubFloor(pendingDeltaLiq),
		ReservedTokenValue:    reserved,
		UsedCollatLiquidity:   usedCollat,
		PendingDeltaLiquidity: pendingDeltaLiq,
		UsedDeltaLiquidity:    usedDelta,
		NAV:                   nav,
		TokenPrice:            price,
		SpotPrice:             spot,
		OptionValueDebt:       p.valuation.GlobalOptionNetValue(),
		IVVariance:            p.valuation.MaxIVVariance(),
		SkewVariance:          p.valuation.MaxSkewVariance(),
	}, nil
}
