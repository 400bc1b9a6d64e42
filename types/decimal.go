package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// DecimalPlaces is the fixed precision of Decimal.
const DecimalPlaces = 18

var (
	ErrDecimalOverflow  = errors.New("decimal overflow")
	ErrDecimalUnderflow = errors.New("decimal underflow")
	ErrInvalidDecimal   = errors.New("invalid decimal")
)

var decimalOne = func() uint256.Int {
	var one uint256.Int
	one.Exp(uint256.NewInt(10), uint256.NewInt(DecimalPlaces))
	return one
}()

// Decimal is a non-negative fixed point amount with 18 decimal places.
type Decimal struct {
	v uint256.Int
}

// NewDecimal returns a whole number of units.
func NewDecimal(units uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(units), &decimalOne)
	return d
}

// ZeroDecimal returns 0.
func ZeroDecimal() Decimal {
	return Decimal{}
}

// ParseDecimal parses strings such as "12", "0.5" or "1.000000000000000001".
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && frac == "") || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	if len(frac) > DecimalPlaces {
		return Decimal{}, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidDecimal, s, DecimalPlaces)
	}
	var w uint256.Int
	if err := w.SetFromDecimal(whole); err != nil {
		return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
	}
	var d Decimal
	if _, overflow := d.v.MulOverflow(&w, &decimalOne); overflow {
		return Decimal{}, fmt.Errorf("%w: %q", ErrDecimalOverflow, s)
	}
	if hasFrac {
		var f uint256.Int
		if err := f.SetFromDecimal(frac + strings.Repeat("0", DecimalPlaces-len(frac))); err != nil {
			return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
		}
		if _, overflow := d.v.AddOverflow(&d.v, &f); overflow {
			return Decimal{}, fmt.Errorf("%w: %q", ErrDecimalOverflow, s)
		}
	}
	return d, nil
}

// MustParseDecimal is ParseDecimal for constants and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String formats d without trailing fractional zeros.
func (d Decimal) String() string {
	var whole, frac uint256.Int
	whole.Div(&d.v, &decimalOne)
	frac.Mod(&d.v, &decimalOne)
	if frac.IsZero() {
		return whole.Dec()
	}
	fs := frac.Dec()
	fs = strings.Repeat("0", DecimalPlaces-len(fs)) + fs
	return whole.Dec() + "." + strings.TrimRight(fs, "0")
}

// IsZero reports whether d is 0.
func (d Decimal) IsZero() bool {
	return d.v.IsZero()
}

// Cmp returns -1, 0 or 1 as d is less than, equal to or greater than o.
func (d Decimal) Cmp(o Decimal) int {
	return d.v.Cmp(&o.v)
}

// Add fails with ErrDecimalOverflow instead of wrapping.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var r Decimal
	if _, overflow := r.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	return r, nil
}

// Sub fails instead of going negative.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var r Decimal
	if _, underflow := r.v.SubOverflow(&d.v, &o.v); underflow {
		return Decimal{}, fmt.Errorf("%w: %s - %s", ErrDecimalUnderflow, d, o)
	}
	return r, nil
}

// FitsDivisibility reports whether the amount can be represented with the
// given number of decimal places.
func (d Decimal) FitsDivisibility(divisibility uint8) bool {
	if divisibility >= DecimalPlaces {
		return true
	}
	var unit, rem uint256.Int
	unit.Exp(uint256.NewInt(10), uint256.NewInt(uint64(DecimalPlaces-divisibility)))
	rem.Mod(&d.v, &unit)
	return rem.IsZero()
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// plain JSON numbers are accepted as well
		s = string(data)
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
