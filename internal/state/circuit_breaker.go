package state

import (
	"time"

	fpmath "OptionLedger/internal/math"
)

// CircuitBreaker pauses queue processing until Until. Until only moves forward.
type CircuitBreaker struct {
	Until time.Time `json:"until"`
}

// CBSignals are the market and liquidity readings a breaker update is based on.
type CBSignals struct {
	FreeLiquidity   fpmath.Decimal
	NAV             fpmath.Decimal
	UsedCollat      fpmath.Decimal
	OptionValueDebt fpmath.SignedDecimal
	IVVariance      fpmath.Decimal
	SkewVariance    fpmath.Decimal
}

// CBTriggers reports which thresholds were crossed in an update.
type CBTriggers struct {
	Liquidity    bool
	IVVariance   bool
	SkewVariance bool
}

func (t CBTriggers) Any() bool {
	return t.Liquidity || t.IVVariance || t.SkewVariance
}

// FreeLiquidityPercent returns free/NAV, treating NAV == 0 as 0%. A ratio too
// large to represent saturates.
func FreeLiquidityPercent(free, nav fpmath.Decimal) fpmath.Decimal {
	if nav.IsZero() {
		return fpmath.Zero()
	}
	pct, err := free.CheckedDiv(nav)
	if err != nil {
		return fpmath.Unbounded()
	}
	return pct
}

// Update evaluates the three triggers and extends Until to now plus the longest
// timeout among those that fired. It returns the triggers and whether Until moved.
// A pool with nothing at risk is left untouched.
func (cb *CircuitBreaker) Update(sig CBSignals, p PoolParameters, now time.Time) (CBTriggers, bool) {
	var trig CBTriggers
	if sig.UsedCollat.IsZero() && sig.OptionValueDebt.IsZero() {
		return trig, false
	}

	freePct := FreeLiquidityPercent(sig.FreeLiquidity, sig.NAV)
	trig.Liquidity = freePct.Lt(p.LiquidityCBThreshold)
	trig.IVVariance = sig.IVVariance.Gt(p.IVVarianceCBThreshold)
	trig.SkewVariance = sig.SkewVariance.Gt(p.SkewVarianceCBThreshold)

	var timeout time.Duration
	if trig.Liquidity && p.LiquidityCBTimeout > timeout {
		timeout = p.LiquidityCBTimeout
	}
	if trig.IVVariance && p.IVVarianceCBTimeout > timeout {
		timeout = p.IVVarianceCBTimeout
	}
	if trig.SkewVariance && p.SkewVarianceCBTimeout > timeout {
		timeout = p.SkewVarianceCBTimeout
	}

	if timeout == 0 {
		return trig, false
	}
	return trig, cb.Extend(now.Add(timeout))
}

// BoardSettled extends the breaker by the board settlement timeout.
func (cb *CircuitBreaker) BoardSettled(p PoolParameters, now time.Time) bool {
	return cb.Extend(now.Add(p.BoardSettlementCBTimeout))
}

// Extend sets Until = max(Until, until) and reports whether it changed.
func (cb *CircuitBreaker) Extend(until time.Time) bool {
	if until.After(cb.Until) {
		cb.Until = until
		return true
	}
	return false
}

// Active reports whether queue processing is paused at now.
func (cb *CircuitBreaker) Active(now time.Time) bool {
	return !now.After(cb.Until)
}

// CanProcess decides whether a queued ticket initiated at initiatedAt may be
// processed now. The guardian may bypass staleness and the breaker once
// guardianDelay has elapsed.
func (cb *CircuitBreaker) CanProcess(initiatedAt time.Time, minDelay time.Duration, stale, isGuardian bool, guardianDelay time.Duration, now time.Time) bool {
	if initiatedAt.IsZero() {
		return false
	}
	delaysExpired := now.After(initiatedAt.Add(minDelay)) && now.After(cb.Until)
	guardianBypass := isGuardian && now.After(initiatedAt.Add(guardianDelay))
	return (!stale && delaysExpired) || guardianBypass
}
