package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the number of kobo in one naira.
const MinorUnitsPerMajor = 100

// DefaultCurrency is the only fiat currency the ledger holds.
const DefaultCurrency = "NGN"

var minorFactor = decimal.NewFromInt(MinorUnitsPerMajor)

// Money represents a fiat value held in minor units to avoid floating point errors.
type Money struct {
	Amount   int64  // kobo
	Currency string // ISO 4217
}

// NewMoney creates a Money instance from minor units.
func NewMoney(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

// ToDecimal converts the minor units to a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(minorFactor)
}

// FromDecimal converts a major-unit decimal to minor units, rounding half away from zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(minorFactor).Round(0).IntPart()
}

// ParseMajor parses a major-unit string such as "1500.50" into minor units.
func ParseMajor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
