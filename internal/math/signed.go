package math

import (
	"fmt"
	"strings"
)

// SignedDecimal is a sign-magnitude Decimal. Option net value uses it: a
// positive value is a debt owed by the pool, a negative value is a credit.
type SignedDecimal struct {
	Abs Decimal
	Neg bool
}

func Positive(d Decimal) SignedDecimal { return SignedDecimal{Abs: d} }

func Negative(d Decimal) SignedDecimal {
	return SignedDecimal{Abs: d, Neg: !d.IsZero()}
}

// ParseSigned accepts an optional leading '-'.
func ParseSigned(s string) (SignedDecimal, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	abs, err := Parse(strings.TrimPrefix(s, "-"))
	if err != nil {
		return SignedDecimal{}, err
	}
	if neg {
		return Negative(abs), nil
	}
	return Positive(abs), nil
}

func (s SignedDecimal) IsZero() bool { return s.Abs.IsZero() }

// IsPositive reports a strictly positive value.
func (s SignedDecimal) IsPositive() bool { return !s.Neg && !s.Abs.IsZero() }

func (s SignedDecimal) String() string {
	if s.Neg && !s.Abs.IsZero() {
		return "-" + s.Abs.String()
	}
	return s.Abs.String()
}

func (s SignedDecimal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignedDecimal) UnmarshalText(b []byte) error {
	parsed, err := ParseSigned(string(b))
	if err != nil {
		return fmt.Errorf("signed decimal: %w", err)
	}
	*s = parsed
	return nil
}
