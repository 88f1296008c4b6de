package state

import fpmath "OptionLedger/internal/math"

// CollateralLedger tracks pool assets locked against sold options.
type CollateralLedger struct {
	LockedQuote fpmath.Decimal `json:"locked_quote"`
	LockedBase  fpmath.Decimal `json:"locked_base"`
}

func (c *CollateralLedger) LockQuote(amount fpmath.Decimal) error {
	next, err := c.LockedQuote.CheckedAdd(amount)
	if err != nil {
		return err
	}
	c.LockedQuote = next
	return nil
}

func (c *CollateralLedger) LockBase(amount fpmath.Decimal) error {
	next, err := c.LockedBase.CheckedAdd(amount)
	if err != nil {
		return err
	}
	c.LockedBase = next
	return nil
}

// FreeQuote releases up to amount; releasing more than is locked clamps at zero.
func (c *CollateralLedger) FreeQuote(amount fpmath.Decimal) {
	c.LockedQuote = c.LockedQuote.SubFloor(amount)
}

// FreeBase releases up to amount; releasing more than is locked clamps at zero.
func (c *CollateralLedger) FreeBase(amount fpmath.Decimal) {
	c.LockedBase = c.LockedBase.SubFloor(amount)
}
