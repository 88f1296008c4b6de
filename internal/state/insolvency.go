package state

import fpmath "OptionLedger/internal/math"

// InsolvencyLedger holds shortfalls the pool has already absorbed at board
// settlement because the vault could not send the full amount. Later
// position-level insolvency is netted against it first.
type InsolvencyLedger struct {
	ExcessBase  fpmath.Decimal `json:"excess_base"`
	ExcessQuote fpmath.Decimal `json:"excess_quote"`
}

func (l *InsolvencyLedger) RecordBaseShortfall(amount fpmath.Decimal) {
	l.ExcessBase = l.ExcessBase.Add(amount)
}

func (l *InsolvencyLedger) RecordQuoteShortfall(amount fpmath.Decimal) {
	l.ExcessQuote = l.ExcessQuote.Add(amount)
}

// NetBase consumes excess against an insolvent base amount and returns the
// residual that still has to be reclaimed from the pool.
func (l *InsolvencyLedger) NetBase(insolvent fpmath.Decimal) fpmath.Decimal {
	residual, excess := net(insolvent, l.ExcessBase)
	l.ExcessBase = excess
	return residual
}

// NetQuote is NetBase for the quote asset.
func (l *InsolvencyLedger) NetQuote(insolvent fpmath.Decimal) fpmath.Decimal {
	residual, excess := net(insolvent, l.ExcessQuote)
	l.ExcessQuote = excess
	return residual
}

func net(insolvent, excess fpmath.Decimal) (residual, remaining fpmath.Decimal) {
	if excess.Gte(insolvent) {
		return fpmath.Zero(), excess.SubFloor(insolvent)
	}
	return insolvent.SubFloor(excess), fpmath.Zero()
}
