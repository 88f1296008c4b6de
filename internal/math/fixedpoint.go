package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by a Decimal.
const Precision = 18

var (
	ErrUnderflow = errors.New("decimal underflow")
	ErrOverflow  = errors.New("decimal overflow")
	ErrNegative  = errors.New("decimal must be non-negative")

	unit = uint256.NewInt(1_000_000_000_000_000_000)
)

// Decimal is an unsigned fixed-point number where 1.0 is 10^18 units.
// Multiplication and division truncate toward zero.
type Decimal struct {
	v uint256.Int
}

// Zero returns 0.
func Zero() Decimal { return Decimal{} }

// One returns 1.0.
func One() Decimal { return Decimal{v: *unit} }

// Unbounded is the largest representable value, used as "no limit".
func Unbounded() Decimal {
	var d Decimal
	d.v.SetAllOne()
	return d
}

// FromInt returns whole * 1.0.
func FromInt(whole uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(whole), unit)
	return d
}

// Parse reads a human decimal such as "1.25". Digits past 18 places are truncated.
func Parse(s string) (Decimal, error) {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return FromShopspring(dec)
}

// MustParse is Parse that panics, for constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromShopspring converts an arbitrary-precision decimal.
func FromShopspring(dec decimal.Decimal) (Decimal, error) {
	if dec.IsNegative() {
		return Decimal{}, ErrNegative
	}
	raw := dec.Shift(Precision).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return Decimal{}, fmt.Errorf("decimal %s overflows 256 bits", dec.String())
	}
	return Decimal{v: *v}, nil
}

// Shopspring returns the value as a shopspring decimal.
func (d Decimal) Shopspring() decimal.Decimal {
	return decimal.NewFromBigInt(d.v.ToBig(), -Precision)
}

func (d Decimal) String() string {
	return d.Shopspring().String()
}

// Float64 is lossy; only for metrics and logs.
func (d Decimal) Float64() float64 { return d.Shopspring().InexactFloat64() }

// Units returns a copy of the raw 1e18-scaled integer.
func (d Decimal) Units() *uint256.Int {
	return new(uint256.Int).Set(&d.v)
}

func (d Decimal) IsZero() bool { return d.v.IsZero() }

func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(&o.v) }
func (d Decimal) Eq(o Decimal) bool { return d.v.Eq(&o.v) }
func (d Decimal) Lt(o Decimal) bool { return d.v.Lt(&o.v) }
func (d Decimal) Gt(o Decimal) bool { return d.v.Gt(&o.v) }
func (d Decimal) Lte(o Decimal) bool { return !d.v.Gt(&o.v) }
func (d Decimal) Gte(o Decimal) bool { return !d.v.Lt(&o.v) }

// Add panics on 256-bit overflow. Amounts that arrive in commands go through
// CheckedAdd instead.
func (d Decimal) Add(o Decimal) Decimal {
	return must(d.CheckedAdd(o))
}

// CheckedAdd returns d + o, or ErrOverflow.
func (d Decimal) CheckedAdd(o Decimal) (Decimal, error) {
	var r Decimal
	if _, overflow := r.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, fmt.Errorf("%w: %s + %s", ErrOverflow, d, o)
	}
	return r, nil
}

// CheckedSub returns d - o, or ErrUnderflow when o > d.
func (d Decimal) CheckedSub(o Decimal) (Decimal, error) {
	if o.v.Gt(&d.v) {
		return Decimal{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, d, o)
	}
	var r Decimal
	r.v.Sub(&d.v, &o.v)
	return r, nil
}

// SubFloor returns max(0, d - o).
func (d Decimal) SubFloor(o Decimal) Decimal {
	if o.v.Gt(&d.v) {
		return Decimal{}
	}
	var r Decimal
	r.v.Sub(&d.v, &o.v)
	return r
}

// Mul returns d*o/1e18 and panics on overflow.
func (d Decimal) Mul(o Decimal) Decimal {
	return must(d.CheckedMul(o))
}

// CheckedMul returns d*o/1e18, or ErrOverflow.
func (d Decimal) CheckedMul(o Decimal) (Decimal, error) {
	var r Decimal
	if _, overflow := r.v.MulDivOverflow(&d.v, &o.v, unit); overflow {
		return Decimal{}, fmt.Errorf("%w: %s * %s", ErrOverflow, d, o)
	}
	return r, nil
}

// Div returns d*1e18/o and panics on overflow. Division by zero yields zero;
// callers guard the denominators that matter (share supply, NAV).
func (d Decimal) Div(o Decimal) Decimal {
	return must(d.CheckedDiv(o))
}

// CheckedDiv returns d*1e18/o, or ErrOverflow. Division by zero yields zero.
func (d Decimal) CheckedDiv(o Decimal) (Decimal, error) {
	if o.IsZero() {
		return Decimal{}, nil
	}
	var r Decimal
	if _, overflow := r.v.MulDivOverflow(&d.v, unit, &o.v); overflow {
		return Decimal{}, fmt.Errorf("%w: %s / %s", ErrOverflow, d, o)
	}
	return r, nil
}

func must(d Decimal, err error) Decimal {
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	return d
}

func Min(a, b Decimal) Decimal {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b Decimal) Decimal {
	if a.Gt(b) {
		return a
	}
	return b
}

// MarshalText encodes the human form so snapshots and API payloads stay readable.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
