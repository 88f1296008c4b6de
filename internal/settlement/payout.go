package settlement

import (
	"fmt"
	"strings"

	fpmath "OptionLedger/internal/math"
)

type OptionType int

const (
	LongCall OptionType = iota
	LongPut
	ShortCallBase
	ShortCallQuote
	ShortPutQuote
)

var optionTypeNames = [...]string{
	LongCall:       "LONG_CALL",
	LongPut:        "LONG_PUT",
	ShortCallBase:  "SHORT_CALL_BASE",
	ShortCallQuote: "SHORT_CALL_QUOTE",
	ShortPutQuote:  "SHORT_PUT_QUOTE",
}

func (t OptionType) String() string {
	if t < 0 || int(t) >= len(optionTypeNames) {
		return fmt.Sprintf("OptionType(%d)", int(t))
	}
	return optionTypeNames[t]
}

func ParseOptionType(s string) (OptionType, error) {
	for i, name := range optionTypeNames {
		if strings.EqualFold(s, name) {
			return OptionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown option type %q", s)
}

func (t OptionType) IsLong() bool { return t == LongCall || t == LongPut }

// IsBaseCollateralized reports whether the short's collateral is held in base.
func (t OptionType) IsBaseCollateralized() bool { return t == ShortCallBase }

func (t OptionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OptionType) UnmarshalText(b []byte) error {
	parsed, err := ParseOptionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// callValue = max(0, spot - strike) * size
func callValue(strike, spot, size fpmath.Decimal) (fpmath.Decimal, error) {
	return spot.SubFloor(strike).CheckedMul(size)
}

// putValue = max(0, strike - spot) * size
func putValue(strike, spot, size fpmath.Decimal) (fpmath.Decimal, error) {
	return strike.SubFloor(spot).CheckedMul(size)
}

// LongPayout is the quote a long holder receives at expiry. It fails only when
// the payout does not fit in a Decimal.
func LongPayout(t OptionType, strike, spot, size fpmath.Decimal) (fpmath.Decimal, error) {
	switch t {
	case LongCall:
		return callValue(strike, spot, size)
	case LongPut:
		return putValue(strike, spot, size)
	}
	return fpmath.Zero(), nil
}

// AMMProfit is what a short owes the pool at expiry, in the short's collateral
// asset. Base-collateralized calls use the profit ratio fixed at board
// settlement (base units per option).
func AMMProfit(t OptionType, strike, spot, profitRatio, size fpmath.Decimal) (fpmath.Decimal, error) {
	switch t {
	case ShortCallBase:
		return profitRatio.CheckedMul(size)
	case ShortCallQuote:
		return callValue(strike, spot, size)
	case ShortPutQuote:
		return putValue(strike, spot, size)
	}
	return fpmath.Zero(), nil
}

// ShortOutcome splits a short's collateral: what goes back to the owner and
// how much of the pool's profit the collateral could not cover.
func ShortOutcome(collateral, ammProfit fpmath.Decimal) (returned, insolvent fpmath.Decimal) {
	return collateral.SubFloor(ammProfit), ammProfit.SubFloor(collateral)
}
