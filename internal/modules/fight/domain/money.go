package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount, odds
// value and payout carries. It matches the decimal(24,8) columns.
const MoneyScale = 8

// CheckScale rejects a value the money columns cannot hold exactly
func CheckScale(name string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s %s has more than %d decimal places", ErrInvalidArgument, name, d, MoneyScale)
	}
	return nil
}

// Payout is what a winning wager of amount returns at odds, rounded to
// the storage scale.
func Payout(amount, odds decimal.Decimal) decimal.Decimal {
	return amount.Mul(odds).Round(MoneyScale)
}
