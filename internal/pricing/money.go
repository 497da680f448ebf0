package pricing

import (
	"errors"
	"math"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrOverflow is returned when an amount does not fit in Money.
var ErrOverflow = errors.New("pricing: amount overflows minor units")

// MulQty multiplies a unit price by a quantity, reporting overflow instead of
// wrapping around.
func MulQty(qty int, unit Money) (Money, error) {
	if qty <= 0 || unit == 0 {
		return 0, nil
	}
	q := int64(qty)
	if unit > 0 && q > math.MaxInt64/unit {
		return 0, ErrOverflow
	}
	if unit < 0 && q > math.MinInt64/unit {
		return 0, ErrOverflow
	}
	return q * unit, nil
}

// LineTotal multiplies a unit price by a quantity. Non-positive quantities
// contribute nothing. Results that do not fit saturate at the int64 bounds.
func LineTotal(qty int, unit Money) Money {
	total, err := MulQty(qty, unit)
	if err != nil {
		if unit < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return total
}

// Savings is what a buyer saved on qty units settled at unit instead of regular.
// It never goes negative, even for schedules whose tier price exceeds the regular price.
func Savings(qty int, regular, unit Money) Money {
	if unit >= regular {
		return 0
	}
	return LineTotal(qty, regular-unit)
}

// Summary aggregates the monetary outcome of a settled batch.
type Summary struct {
	Gross   Money
	Savings Money
	Net     Money
}

// Summarize computes batch level totals for the given line quantities.
func Summarize(quantities []int, regular, unit Money) Summary {
	var s Summary
	for _, q := range quantities {
		if q <= 0 {
			continue
		}
		s.Gross = addSat(s.Gross, LineTotal(q, regular))
		s.Net = addSat(s.Net, LineTotal(q, unit))
		s.Savings = addSat(s.Savings, Savings(q, regular, unit))
	}
	return s
}

func addSat(a, b Money) Money {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
